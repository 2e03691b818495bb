package auth

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Photon-Health/client-sub003/cmd/photonctl/internal/cliconfig"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out from Photon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cliconfig.MustFromContext(cmd.Context())

		// Ending the provider-side session needs the SDK; when it cannot be
		// constructed (no config), fall back to clearing the local file.
		if s, err := cfg.Provider.SDK(cmd.Context()); err == nil {
			s.Session().Logout(cmd.Context())
			fmt.Println("Logged out successfully")
			return nil
		}

		store, err := cfg.Provider.CredentialStore()
		if err != nil {
			return fmt.Errorf("failed to create credential store: %w", err)
		}
		if err := store.DeleteCredentials(); err != nil {
			return fmt.Errorf("failed to delete credentials: %w", err)
		}
		fmt.Println("Logged out successfully")
		return nil
	},
}
