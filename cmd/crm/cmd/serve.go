package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	crmauth "github.com/goliatone/go-crmauth"
	"github.com/goliatone/go-crmauth/internal/config"
	"github.com/goliatone/go-crmauth/internal/web"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the CRM pages behind the session guard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		if cfg.Debug {
			pterm.Debug.Println(describeConfig(cfg))
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		logger := web.FiberLogger{}
		authority := crmauth.NewHTTPAuthorityFromConfig(cfg.Auth, crmauth.WithAuthorityLogger(logger))

		srv, err := web.New(cfg, authority,
			web.WithLogger(logger),
			web.WithRegistry(reg),
		)
		if err != nil {
			return err
		}

		errc := make(chan error, 1)
		go func() {
			errc <- srv.Listen(cfg.Server.Addr)
		}()

		pterm.Info.Printfln("Serving on %s against %s", cfg.Server.Addr, cfg.Auth.BaseURL)

		select {
		case err := <-errc:
			return err
		case sig := <-waitExitSignal():
			pterm.Info.Printfln("Received %s, shutting down", sig)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, defaults to server.addr")
}

// describeConfig renders the configuration with secrets masked
func describeConfig(cfg *config.Config) string {
	return print.MaybeSecureJSON(cfg)
}

func waitExitSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return ch
}
