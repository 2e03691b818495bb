package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Photon-Health/client-sub003/cmd/photonctl/cmd/auth"
	"github.com/Photon-Health/client-sub003/cmd/photonctl/cmd/catalog"
	"github.com/Photon-Health/client-sub003/cmd/photonctl/cmd/patient"
	"github.com/Photon-Health/client-sub003/cmd/photonctl/cmd/rx"
	"github.com/Photon-Health/client-sub003/cmd/photonctl/internal/cliconfig"
	"github.com/Photon-Health/client-sub003/cmd/photonctl/internal/client"
	"github.com/Photon-Health/client-sub003/pkg/sdk"
)

var (
	issuer         string
	clientID       string
	endpoint       string
	organizationID string
	nonInteractive bool
)

var rootCmd = &cobra.Command{
	Use:   "photonctl",
	Short: "Photon CLI - clinical platform client",
	Long: `photonctl is the command-line interface for the Photon clinical platform.
Use it to authenticate against your organization and to look up patients,
prescriptions and the treatment catalog.

Configuration comes from PHOTON_* environment variables; flags override them.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("PHOTON_NON_INTERACTIVE") == "1" {
			nonInteractive = true
		}

		provider := client.NewProvider(func(cfg *sdk.Config) {
			if issuer != "" {
				cfg.Issuer = issuer
			}
			if clientID != "" {
				cfg.ClientID = clientID
			}
			if endpoint != "" {
				cfg.Endpoint = endpoint
			}
			if organizationID != "" {
				cfg.OrganizationID = organizationID
			}
		})

		ctx := cliconfig.Inject(cmd.Context(), &cliconfig.GlobalConfig{
			NonInteractive: nonInteractive,
			Provider:       provider,
		})
		cmd.SetContext(ctx)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cfg, ok := cliconfig.FromContext(cmd.Context()); ok {
			cfg.Provider.Close()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&issuer, "issuer", "", "Identity provider issuer URL (PHOTON_ISSUER)")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "OAuth client id (PHOTON_CLIENT_ID)")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "Clinical API endpoint (PHOTON_ENDPOINT)")
	rootCmd.PersistentFlags().StringVar(&organizationID, "org", "", "Organization id to bind the session to (PHOTON_ORG_ID)")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Disable interactive prompts (also set via PHOTON_NON_INTERACTIVE=1)")
	rootCmd.AddCommand(auth.AuthCmd)
	rootCmd.AddCommand(patient.PatientCmd)
	rootCmd.AddCommand(rx.RxCmd)
	rootCmd.AddCommand(catalog.CatalogCmd)
}
