package cmd

import (
	"fmt"
	"os"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/goliatone/go-crmauth/internal/config"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session credential",
	Long: `Signs in with email and password. The password is read from --password,
then CRM_PASSWORD, and is prompted for when neither is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())

		email, err := promptIfEmpty(loginEmail, "Email", false)
		if err != nil {
			return err
		}
		password, err := promptIfEmpty(firstNonEmpty(loginPassword, os.Getenv("CRM_PASSWORD")), "Password", true)
		if err != nil {
			return err
		}

		s, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Login(cmd.Context(), email, password); err != nil {
			return fmt.Errorf("login failed: %s", failureMessage(err))
		}

		identity := s.CurrentIdentity()
		pterm.Success.Printfln("Signed in as %s (%s)", identity.Name, identity.Email)
		if identity.Organization.Name != "" {
			pterm.Info.Printfln("Organization: %s", identity.Organization.Name)
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Account password")
}

func promptIfEmpty(value, label string, secret bool) (string, error) {
	if value != "" {
		return value, nil
	}

	input := pterm.DefaultInteractiveTextInput
	if secret {
		input = *input.WithMask("*")
	}
	return input.Show(label)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func failureMessage(err error) string {
	switch {
	case crmauth.IsInvalidInput(err):
		return "every field is required"
	case crmauth.IsInvalidCredentials(err):
		return "invalid email or password"
	case crmauth.IsNetworkError(err):
		return "the API could not be reached"
	default:
		return err.Error()
	}
}
