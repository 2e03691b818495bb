package rx

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Photon-Health/client-sub003/cmd/photonctl/internal/cliconfig"
	"github.com/Photon-Health/client-sub003/pkg/sdk"
)

var listPatientID string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List a patient's prescriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cliconfig.MustFromContext(cmd.Context())
		s, err := cfg.Provider.SDK(cmd.Context())
		if err != nil {
			return err
		}

		rxs, err := s.ListPrescriptions(cmd.Context(), sdk.ListPrescriptionsInput{
			PatientID: listPatientID,
		})
		if err != nil {
			return fmt.Errorf("failed to list prescriptions: %w", err)
		}

		if len(rxs) == 0 {
			fmt.Println("No prescriptions found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTREATMENT\tSTATUS\tFILLS\tWRITTEN")
		for _, rx := range rxs {
			written := ""
			if !rx.WrittenAt.IsZero() {
				written = rx.WrittenAt.Format(time.RFC3339)
			}
			name := rx.TreatmentName
			if name == "" {
				name = rx.TreatmentID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				rx.ID, name, rx.Status, rx.FillsAllowed, written)
		}
		w.Flush()
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listPatientID, "patient", "", "Patient id (required)")
	listCmd.MarkFlagRequired("patient")
}
