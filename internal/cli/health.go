package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/hairscope-lab/internal/services"
)

func newHealthCommand(a *app) *cobra.Command {
	var serverURL string
	var detailed bool

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running server's health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if serverURL == "" {
				serverURL = "http://localhost:" + a.appConfig().GetServerPort()
			}

			endpoint := "/health/ready"
			if detailed {
				endpoint = "/health/detailed"
			}

			report, err := NewAPIClient(serverURL).Health(cmd.Context(), endpoint)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			if err := RenderHealth(cmd.OutOrStdout(), a.outputFormat, report); err != nil {
				return err
			}
			if report.Status == services.HealthStatusUnhealthy {
				return fmt.Errorf("server at %s is unhealthy", serverURL)
			}
			return nil
		},
	}
	healthCmd.Flags().StringVarP(&serverURL, "server", "s", "", "server URL (default http://localhost:$SERVER_PORT)")
	healthCmd.Flags().BoolVar(&detailed, "detailed", false, "include system details")

	return healthCmd
}
