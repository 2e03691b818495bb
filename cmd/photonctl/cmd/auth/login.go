package auth

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Photon-Health/client-sub003/cmd/photonctl/internal/cliconfig"
	"github.com/Photon-Health/client-sub003/pkg/sdk"
)

var invitation string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with Photon",
	Long: `Authenticates against the identity provider using a browser-based flow.

photonctl prints the authorization URL for you to open in a browser. After
you sign in, the provider redirects to your configured callback URL; paste
that full URL back into the prompt to complete the login.

Pass --invitation to accept an organization invitation during login.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cliconfig.MustFromContext(cmd.Context())
		if cfg.NonInteractive {
			return fmt.Errorf("login requires an interactive terminal")
		}

		s, err := cfg.Provider.SDK(cmd.Context())
		if err != nil {
			return err
		}

		authorizeURL, err := s.Session().Login(cmd.Context(), sdk.LoginOptions{
			Invitation: invitation,
		})
		if err != nil {
			return fmt.Errorf("failed to start login: %w", err)
		}

		pterm.Info.Println("Open the following URL in your browser to sign in:")
		fmt.Println(authorizeURL)
		fmt.Println()

		callbackURL, err := pterm.DefaultInteractiveTextInput.
			WithMultiLine(false).
			Show("Paste the full callback URL after signing in")
		if err != nil {
			return fmt.Errorf("failed to read callback URL: %w", err)
		}

		s.Session().HandleRedirect(cmd.Context(), callbackURL)
		snap := s.Session().Snapshot()
		if snap.Err != nil {
			return fmt.Errorf("login failed: %s", snap.Err.Error())
		}
		if !snap.Authenticated {
			return fmt.Errorf("login did not establish a session")
		}

		fmt.Println("------------------------------------------------------------")
		pterm.Success.Println("Login successful!")
		if snap.Identity != nil && snap.Identity.Email != "" {
			pterm.Info.Printf("Authenticated as: %s\n", snap.Identity.Email)
		}
		if snap.OrgBound && snap.TenantID != "" {
			pterm.Info.Printf("Organization: %s\n", snap.TenantID)
		} else if !snap.OrgBound && snap.TenantID == "" {
			pterm.Warning.Println("Session is not bound to an organization.")
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&invitation, "invitation", "", "Organization invitation ticket to accept during login")
}
