package cmd

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/goliatone/go-crmauth/activitymap"
	"github.com/goliatone/go-crmauth/internal/config"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var watchJSON bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the session open and report changes",
	Long: `Keeps the stored session open, checking it with the API every
--revalidate-interval, and prints every state change. Exits when the
session ends or on interrupt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := []crmauth.ManagerOption{
			crmauth.WithRevalidateInterval(cfg.Auth.RevalidateInterval),
			crmauth.WithPermissionPreload(true),
		}
		if watchJSON {
			opts = append(opts, crmauth.WithActivitySink(activitymap.Writer(os.Stdout, activitymap.WithActorFallback("cli"))))
		}

		s, err := openSession(ctx, cfg, opts...)
		if err != nil {
			return err
		}
		defer s.Close()

		if !s.IsAuthenticated() {
			pterm.Info.Printfln("Status: %s", describeState(s))
			return nil
		}

		ended := make(chan struct{})
		var once sync.Once
		unsubscribe := s.Subscribe(func(snap crmauth.Snapshot) {
			if !watchJSON {
				pterm.Info.Printfln("%s session %s", time.Now().Format(time.TimeOnly), snap.State)
			}
			if snap.State == crmauth.StateUnauthenticated {
				once.Do(func() { close(ended) })
			}
		})
		defer unsubscribe()

		pterm.Info.Printfln("Watching session for %s, press Ctrl+C to stop", s.CurrentIdentity().Email)

		select {
		case <-ctx.Done():
			return nil
		case <-ended:
			pterm.Warning.Printfln("Status: %s", describeState(s))
			return nil
		}
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print session events as JSON lines")
}
