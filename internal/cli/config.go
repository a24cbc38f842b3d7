package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/hairscope-lab/internal/config"
)

// Setting is one effective configuration value.
type Setting struct {
	Key    string `json:"key" yaml:"key"`
	Value  string `json:"value" yaml:"value"`
	Secret bool   `json:"secret,omitempty" yaml:"secret,omitempty"`
}

const redacted = "********"

func newConfigCommand(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create the labctl configuration",
	}

	var reveal bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration the server would start with, after applying
defaults, the config file, the environment and command line flags.
Secrets are masked unless --reveal is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.appConfig()
			settings := effectiveSettings(cfg, reveal)
			if err := RenderSettings(cmd.OutOrStdout(), a.outputFormat, settings); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			return nil
		},
	}
	showCmd.Flags().BoolVar(&reveal, "reveal", false, "print secrets in clear text")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.configPath()
			if err != nil {
				return err
			}
			if err := writeDefaultConfig(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	configCmd.AddCommand(showCmd, pathCmd, initCmd)
	return configCmd
}

// effectiveSettings lists cfg in a stable order.
func effectiveSettings(cfg *config.AppConfig, reveal bool) []Setting {
	secret := func(key, value string) Setting {
		if !reveal {
			value = redacted
		}
		return Setting{Key: key, Value: value, Secret: true}
	}

	return []Setting{
		{Key: "ENVIRONMENT", Value: cfg.GetEnvironment()},
		{Key: "SERVER_PORT", Value: cfg.GetServerPort()},
		{Key: "LOG_LEVEL", Value: cfg.GetLogLevel()},
		{Key: "LOG_FORMAT", Value: cfg.GetLogFormat()},
		{Key: "ALLOCATION_MINUTES", Value: strconv.Itoa(int(cfg.GetAllocation().Minutes()))},
		{Key: "POLL_INTERVAL", Value: cfg.GetPollInterval().String()},
		{Key: "WINDOW_TTL", Value: cfg.GetWindowTTL().String()},
		{Key: "LOCKOUT_ON_EXHAUSTION", Value: strconv.FormatBool(cfg.IsLockoutOnExhaustion())},
		{Key: "STORAGE_BACKEND", Value: cfg.GetStorageBackend()},
		{Key: "REDIS_URL", Value: cfg.GetRedisURL()},
		{Key: "SQLITE_PATH", Value: cfg.GetSQLitePath()},
		{Key: "LAB_USERNAME", Value: cfg.GetLabUsername()},
		secret("LAB_PASSWORD", cfg.GetLabPassword()),
		secret("COOKIE_SECRET", cfg.GetCookieSecret()),
		secret("ENTRY_PASS_SECRET", cfg.GetEntryPassSecret()),
		{Key: "ENTRY_PASS_TTL", Value: cfg.GetEntryPassTTL().String()},
		{Key: "RATE_LIMIT_ENABLED", Value: strconv.FormatBool(cfg.IsRateLimitEnabled())},
		{Key: "RATE_LIMIT_REQUESTS_PER_MINUTE", Value: strconv.Itoa(cfg.GetRateLimitRequestsPerMinute())},
	}
}

// configPath returns the path to the configuration file
func (a *app) configPath() (string, error) {
	if a.cfgFile != "" {
		absPath, err := filepath.Abs(a.cfgFile)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path for config file: %w", err)
		}
		return absPath, nil
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, configFileName+".yaml"), nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.New("failed to determine config directory: both UserHomeDir and UserConfigDir failed")
	}
	return filepath.Join(configDir, configFileName+".yaml"), nil
}

// validateConfigPath validates that the config path is safe
func validateConfigPath(path string) error {
	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return errors.New("invalid config path: path traversal not allowed")
	}
	if !filepath.IsAbs(cleanPath) {
		return errors.New("invalid config path: must be absolute path")
	}
	return nil
}

// writeDefaultConfig writes the non-secret defaults as lower-case keys.
func writeDefaultConfig(path string, force bool) error {
	if err := validateConfigPath(path); err != nil {
		return fmt.Errorf("config path validation failed: %w", err)
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	defaults := config.NewConfigFrom(func(string) string { return "" })
	values := make(map[string]string)
	for _, s := range effectiveSettings(defaults, false) {
		if s.Secret {
			continue
		}
		values[strings.ToLower(s.Key)] = s.Value
	}

	data, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
