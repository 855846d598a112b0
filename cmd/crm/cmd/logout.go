package cmd

import (
	"github.com/goliatone/go-crmauth/internal/config"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())

		s, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		wasSignedIn := s.IsAuthenticated()
		s.Logout(cmd.Context())

		if wasSignedIn {
			pterm.Success.Println("Signed out")
		} else {
			pterm.Info.Println("No active session, local credentials cleared")
		}
		return nil
	},
}
