// Package cli implements labctl, the operator command line for HairScope Lab.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ericfisherdev/hairscope-lab/internal/config"
	"github.com/ericfisherdev/hairscope-lab/internal/logging"
)

const (
	applicationName = "labctl"
	configFileName  = ".labctl"
)

// Version is reported by --version. Set by main from link-time values.
var Version = "dev"

// app is the state shared by every command of one invocation.
type app struct {
	v            *viper.Viper
	cfgFile      string
	outputFormat string
	verbose      bool
}

// Execute builds the command tree and runs it against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand returns a fresh labctl command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   applicationName,
		Short: "HairScope Lab CLI - run the lab gate and manage lab sessions",
		Long: `labctl runs the HairScope Lab server and lets support staff inspect,
end and lift lab sessions from the terminal.

Settings come from the environment (SERVER_PORT, STORAGE_BACKEND, ...) or from
the same keys in lower case in $HOME/.labctl.yaml. The environment wins.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig(cmd.ErrOrStderr())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.labctl.yaml)")
	flags.StringVarP(&a.outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	flags.String("storage", "", "storage backend (memory, redis, sqlite)")
	flags.String("redis-url", "", "redis connection URL")
	flags.String("sqlite-path", "", "sqlite database file")

	_ = a.v.BindPFlag("storage_backend", flags.Lookup("storage"))
	_ = a.v.BindPFlag("redis_url", flags.Lookup("redis-url"))
	_ = a.v.BindPFlag("sqlite_path", flags.Lookup("sqlite-path"))

	rootCmd.AddCommand(
		newServeCommand(a),
		newSessionCommand(a),
		newCredentialsCommand(a),
		newConfigCommand(a),
		newHealthCommand(a),
	)

	return rootCmd
}

// initConfig reads in config file and ENV variables if set.
func (a *app) initConfig(stderr io.Writer) error {
	path, err := a.configPath()
	if err != nil {
		return err
	}
	a.v.SetConfigFile(path)
	a.v.SetConfigType("yaml")
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		// A missing default file is fine; an explicit one must exist.
		if a.cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	if a.verbose {
		fmt.Fprintf(stderr, "Using config file: %s\n", a.v.ConfigFileUsed())
	}
	return nil
}

// source looks settings up in viper, which layers flags, environment and
// the config file.
func (a *app) source(key string) string {
	return a.v.GetString(strings.ToLower(key))
}

// appConfig builds the application configuration from the layered settings.
func (a *app) appConfig() *config.AppConfig {
	return config.NewConfigFrom(a.source)
}

// cliLogger writes diagnostics to stderr so command output stays parseable.
func (a *app) cliLogger(stderr io.Writer) *slog.Logger {
	level := "warn"
	if a.verbose {
		level = "debug"
	}
	return logging.NewWithWriter(stderr, level, "text")
}
