package cmd

import (
	"strings"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/goliatone/go-crmauth/internal/config"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display the session and its effective permissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())

		s, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		pterm.DefaultSection.Println("Session")
		pterm.Info.Printfln("Status: %s", describeState(s))

		identity := s.CurrentIdentity()
		if identity == nil {
			return nil
		}

		_ = pterm.DefaultTable.WithData(pterm.TableData{
			{"User", identity.Name},
			{"Email", identity.Email},
			{"Role", string(identity.Role)},
			{"Organization", identity.Organization.Name},
		}).Render()

		resolver := s.Permissions()
		if err := resolver.LoadPermissions(cmd.Context()); err != nil {
			pterm.Warning.Printfln("Showing role defaults, permissions could not be loaded: %s", failureMessage(err))
		}

		pterm.DefaultSection.Println("Effective Permissions")
		_ = pterm.DefaultTable.WithHasHeader().WithData(permissionTable(resolver)).Render()
		return nil
	},
}

func permissionTable(resolver *crmauth.PermissionResolver) pterm.TableData {
	data := pterm.TableData{{"RESOURCE", "ACTIONS"}}
	for _, resource := range crmauth.AllResources() {
		var actions []string
		for _, action := range crmauth.AllActions() {
			if resolver.CheckPermission(resource, action) {
				actions = append(actions, string(action))
			}
		}
		if len(actions) == 0 {
			continue
		}
		data = append(data, []string{string(resource), strings.Join(actions, ", ")})
	}
	return data
}
