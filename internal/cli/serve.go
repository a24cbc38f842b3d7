package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/hairscope-lab/internal/api"
	"github.com/ericfisherdev/hairscope-lab/internal/logging"
	"github.com/ericfisherdev/hairscope-lab/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lab server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.appConfig()
			logger := logging.New(cfg.GetLogLevel(), cfg.GetLogFormat())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.Run(ctx, cfg, logger, api.BuildInfo{Version: Version})
		},
	}

	serveCmd.Flags().String("port", "", "listen port (default 8080)")
	serveCmd.Flags().String("allocation", "", "session length in minutes (default 10)")
	_ = a.v.BindPFlag("server_port", serveCmd.Flags().Lookup("port"))
	_ = a.v.BindPFlag("allocation_minutes", serveCmd.Flags().Lookup("allocation"))

	return serveCmd
}
