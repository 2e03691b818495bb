package patient

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Photon-Health/client-sub003/cmd/photonctl/internal/cliconfig"
)

var getCmd = &cobra.Command{
	Use:   "get <patient-id>",
	Short: "Get one patient record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cliconfig.MustFromContext(cmd.Context())
		s, err := cfg.Provider.SDK(cmd.Context())
		if err != nil {
			return err
		}

		p, err := s.GetPatient(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get patient: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDOB\tEMAIL\tPHONE")
		fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\t%s\n",
			p.ID, p.GivenName, p.FamilyName, p.DateOfBirth, p.Email, p.Phone)
		w.Flush()
		return nil
	},
}
