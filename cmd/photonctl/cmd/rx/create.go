package rx

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Photon-Health/client-sub003/cmd/photonctl/internal/cliconfig"
	"github.com/Photon-Health/client-sub003/pkg/sdk"
)

var (
	createPatientID    string
	createTreatmentID  string
	createInstructions string
	createFills        int
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Write a new prescription",
	Long: `Writes a prescription for a patient. The write is acknowledged as soon
as the backend accepts it; listing the patient's prescriptions immediately
afterwards may briefly show the old state while the write propagates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cliconfig.MustFromContext(cmd.Context())
		s, err := cfg.Provider.SDK(cmd.Context())
		if err != nil {
			return err
		}

		created, err := s.CreatePrescription(cmd.Context(), sdk.PrescriptionInput{
			PatientID:    createPatientID,
			TreatmentID:  createTreatmentID,
			Instructions: createInstructions,
			FillsAllowed: createFills,
		})
		if err != nil {
			var sdkErr *sdk.Error
			if errors.As(err, &sdkErr) && sdkErr.Kind == sdk.KindMutationValidation {
				return fmt.Errorf("prescription rejected: %s", sdkErr.Description)
			}
			return fmt.Errorf("failed to create prescription: %w", err)
		}

		pterm.Success.Printf("Prescription %s created (status: %s)\n", created.ID, created.Status)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createPatientID, "patient", "", "Patient id (required)")
	createCmd.Flags().StringVar(&createTreatmentID, "treatment", "", "Treatment id from the catalog (required)")
	createCmd.Flags().StringVar(&createInstructions, "instructions", "", "Directions for use")
	createCmd.Flags().IntVar(&createFills, "fills", 1, "Number of fills allowed")
	createCmd.MarkFlagRequired("patient")
	createCmd.MarkFlagRequired("treatment")
}
