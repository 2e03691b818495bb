package auth

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Photon-Health/client-sub003/cmd/photonctl/internal/cliconfig"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := cliconfig.MustFromContext(cmd.Context())

		store, err := cfg.Provider.CredentialStore()
		if err != nil {
			return fmt.Errorf("failed to create credential store: %w", err)
		}
		creds, err := store.LoadCredentials()
		if err != nil {
			return fmt.Errorf("not logged in")
		}

		pterm.DefaultSection.Println("Authentication Status")
		pterm.Info.Printf("Logged in with token expiring at: %s\n", creds.ExpiresAt.Format(time.RFC1123))
		if creds.IsExpired() {
			pterm.Warning.Println("Access token is expired; run `photonctl auth login`.")
		}

		s, err := cfg.Provider.SDK(cmd.Context())
		if err != nil {
			return err
		}
		snap := s.Session().Snapshot()
		if !snap.Authenticated {
			return fmt.Errorf("stored credential was rejected by the identity provider; run `photonctl auth login`")
		}

		pterm.DefaultSection.Println("Session")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SUBJECT\tEMAIL\tORGANIZATION\tBOUND\tPERMISSIONS")
		email, subject := "", ""
		if snap.Identity != nil {
			email = snap.Identity.Email
			subject = snap.Identity.SubjectID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			subject,
			email,
			snap.TenantID,
			snap.OrgBound,
			strings.Join(snap.Permissions, ", "),
		)
		w.Flush()

		if snap.Err != nil {
			pterm.Warning.Printf("Session warning: %s\n", snap.Err.Error())
		}
		return nil
	},
}
