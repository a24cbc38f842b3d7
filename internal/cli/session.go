package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/hairscope-lab/internal/api"
	"github.com/ericfisherdev/hairscope-lab/internal/config"
	"github.com/ericfisherdev/hairscope-lab/internal/container"
	"github.com/ericfisherdev/hairscope-lab/internal/domain"
	"github.com/ericfisherdev/hairscope-lab/internal/sessiontimer"
)

// Session states printed by labctl.
const (
	stateActive     = "active"
	stateExhausted  = "exhausted"
	stateNotStarted = "not started"
)

func newSessionCommand(a *app) *cobra.Command {
	var profileID string

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage a browser profile's lab session",
		Long: `Inspect and manage the lab session of one browser profile. The profile id
is the value the server stores in the hs_profile cookie and logs as profile_id.

These commands open the configured storage directly, so they only see the
server's sessions with the redis or sqlite backend.`,
	}
	sessionCmd.PersistentFlags().StringVarP(&profileID, "profile", "p", "", "browser profile id")
	_ = sessionCmd.MarkPersistentFlagRequired("profile")

	run := func(action func(ctx context.Context, cmd *cobra.Command, timer *sessiontimer.Timer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if _, err := uuid.Parse(profileID); err != nil {
				return fmt.Errorf("invalid profile id %q: %w", profileID, err)
			}
			return a.withProvider(cmd, func(ctx context.Context, provider *sessiontimer.Provider) error {
				return action(ctx, cmd, provider.For(profileID, ""))
			})
		}
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, timer *sessiontimer.Timer) error {
			return a.renderTimer(ctx, cmd, timer)
		}),
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the session, or resume it if it is running",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, timer *sessiontimer.Timer) error {
			if err := timer.StartOrResume(ctx); err != nil {
				return fmt.Errorf("failed to start session: %w", err)
			}
			return a.renderTimer(ctx, cmd, timer)
		}),
	}

	exhaustCmd := &cobra.Command{
		Use:   "exhaust",
		Short: "Mark the session exhausted without clearing its deadline",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, timer *sessiontimer.Timer) error {
			if err := timer.MarkExhausted(ctx); err != nil {
				return fmt.Errorf("failed to mark session exhausted: %w", err)
			}
			return a.renderTimer(ctx, cmd, timer)
		}),
	}

	endCmd := &cobra.Command{
		Use:   "end",
		Short: "End the session in every window, as the lab's Exit button does",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, timer *sessiontimer.Timer) error {
			if err := timer.ResetAll(ctx); err != nil {
				return fmt.Errorf("failed to end session: %w", err)
			}
			return a.renderTimer(ctx, cmd, timer)
		}),
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the session and lift the restriction on the profile",
		Long: `Remove the deadline, the exhausted flag and every window record of the
profile. The next sign-in starts a full new session.`,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, timer *sessiontimer.Timer) error {
			if err := timer.Clear(ctx); err != nil {
				return fmt.Errorf("failed to reset session: %w", err)
			}
			return a.renderTimer(ctx, cmd, timer)
		}),
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print session changes as they are published",
		RunE: run(func(ctx context.Context, cmd *cobra.Command, timer *sessiontimer.Timer) error {
			sub, err := timer.Subscribe(ctx)
			if err != nil {
				return fmt.Errorf("failed to subscribe: %w", err)
			}
			defer func() { _ = sub.Close() }()

			for {
				select {
				case <-ctx.Done():
					return nil
				case change, ok := <-sub.C:
					if !ok {
						return nil
					}
					if err := RenderChange(cmd.OutOrStdout(), a.outputFormat, change); err != nil {
						return err
					}
				}
			}
		}),
	}

	sessionCmd.AddCommand(statusCmd, startCmd, exhaustCmd, endCmd, resetCmd, watchCmd)
	return sessionCmd
}

// withProvider opens the configured storage for the duration of fn.
func (a *app) withProvider(cmd *cobra.Command, fn func(ctx context.Context, provider *sessiontimer.Provider) error) error {
	cfg := a.appConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := a.cliLogger(cmd.ErrOrStderr())
	if cfg.GetStorageBackend() == config.StorageMemory {
		logger.Warn("Memory storage is private to this process; use redis or sqlite to manage server sessions")
	}

	c, err := container.InitializeServices(cfg, logger, api.BuildInfo{Version: Version})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	provider, err := container.ResolveAs[*sessiontimer.Provider](ctx, c, container.TimerProviderService)
	if err != nil {
		return err
	}
	return fn(ctx, provider)
}

func (a *app) renderTimer(ctx context.Context, cmd *cobra.Command, timer *sessiontimer.Timer) error {
	status := timer.Status(ctx)
	return RenderSession(cmd.OutOrStdout(), a.outputFormat, newSessionView(timer.ProfileID(), sessionState(status), status))
}

func sessionState(status domain.SessionStatus) string {
	switch {
	case status.IsExhausted:
		return stateExhausted
	case status.IsValid && status.IsStarted():
		return stateActive
	default:
		return stateNotStarted
	}
}
