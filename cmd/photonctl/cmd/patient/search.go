package patient

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Photon-Health/client-sub003/cmd/photonctl/internal/cliconfig"
	"github.com/Photon-Health/client-sub003/pkg/sdk"
)

var (
	searchName  string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search patients by name",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cliconfig.MustFromContext(cmd.Context())
		s, err := cfg.Provider.SDK(cmd.Context())
		if err != nil {
			return err
		}

		patients, err := s.SearchPatients(cmd.Context(), sdk.SearchPatientsInput{
			Name:  searchName,
			Limit: searchLimit,
			Clear: true,
		})
		if err != nil {
			return fmt.Errorf("failed to search patients: %w", err)
		}

		if len(patients) == 0 {
			fmt.Println("No patients found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDOB\tEMAIL")
		for _, p := range patients {
			fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\n",
				p.ID, p.GivenName, p.FamilyName, p.DateOfBirth, p.Email)
		}
		w.Flush()
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchName, "name", "", "Name filter")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 25, "Maximum number of results")
}
