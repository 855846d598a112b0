package cmd

import (
	"fmt"

	"github.com/goliatone/go-crmauth/internal/config"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var canCmd = &cobra.Command{
	Use:   "can <resource> <action> [record-id]",
	Short: "Check whether the session grants an action",
	Long: `Checks a single permission for the signed in user. The command exits
non zero when the action is denied, so it can gate scripts.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())

		s, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if !s.IsAuthenticated() {
			return fmt.Errorf("not signed in")
		}

		resolver := s.Permissions()
		if err := resolver.LoadPermissions(cmd.Context()); err != nil {
			pterm.Warning.Printfln("Using role defaults: %s", failureMessage(err))
		}

		resource, action := args[0], args[1]
		if resolver.Can(resource, action, args[2:]...) {
			pterm.Success.Printfln("%s may %s %s", s.CurrentIdentity().Email, action, resource)
			return nil
		}
		return fmt.Errorf("%s may not %s %s", s.CurrentIdentity().Email, action, resource)
	},
}
