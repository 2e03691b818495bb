package catalog

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Photon-Health/client-sub003/cmd/photonctl/internal/cliconfig"
)

// CatalogCmd is the parent command for treatment catalog operations
var CatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Browse the treatment catalog",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the organization's treatment catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cliconfig.MustFromContext(cmd.Context())
		s, err := cfg.Provider.SDK(cmd.Context())
		if err != nil {
			return err
		}

		items, err := s.GetCatalog(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get catalog: %w", err)
		}

		if len(items) == 0 {
			fmt.Println("Catalog is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tFORM\tSTRENGTH")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.ID, item.Name, item.Form, item.Strength)
		}
		w.Flush()
		return nil
	},
}

func init() {
	CatalogCmd.AddCommand(listCmd)
}
