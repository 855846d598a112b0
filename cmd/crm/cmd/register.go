package cmd

import (
	"fmt"
	"os"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/goliatone/go-crmauth/internal/config"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var registerInput crmauth.RegisterRequest

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and organization, then sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())

		var err error
		req := registerInput
		if req.Name, err = promptIfEmpty(req.Name, "Name", false); err != nil {
			return err
		}
		if req.Email, err = promptIfEmpty(req.Email, "Email", false); err != nil {
			return err
		}
		if req.OrganizationName, err = promptIfEmpty(req.OrganizationName, "Organization", false); err != nil {
			return err
		}
		if req.Password, err = promptIfEmpty(firstNonEmpty(req.Password, os.Getenv("CRM_PASSWORD")), "Password", true); err != nil {
			return err
		}

		s, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		identity, err := s.Register(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("registration failed: %s", failureMessage(err))
		}

		pterm.Success.Printfln("Created %s and signed in as %s", identity.Organization.Name, identity.Email)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerInput.Name, "name", "", "Your name")
	registerCmd.Flags().StringVarP(&registerInput.Email, "email", "e", "", "Account email")
	registerCmd.Flags().StringVar(&registerInput.OrganizationName, "organization", "", "Organization name")
	registerCmd.Flags().StringVarP(&registerInput.Password, "password", "p", "", "Account password")
}
