package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvLoader reads dotenv files into a Source layered under the process
// environment. The process environment is never modified.
type EnvLoader struct {
	loaded  map[string]string
	baseDir string
	logger  *slog.Logger
}

// NewEnvLoader creates a loader for the dotenv files in baseDir.
func NewEnvLoader(baseDir string) *EnvLoader {
	return &EnvLoader{
		baseDir: baseDir,
		loaded:  make(map[string]string),
		logger:  slog.Default(),
	}
}

// envFiles lists the dotenv files of an environment, lowest priority first.
func envFiles(environment string) []string {
	return []string{
		".env.defaults",
		".env." + environment,
		".env.local",
		".env",
	}
}

// LoadEnvFiles reads the dotenv files of environment. Missing files are
// skipped; unreadable ones are logged and skipped.
func (l *EnvLoader) LoadEnvFiles(environment string) error {
	for _, name := range envFiles(environment) {
		vars, err := readEnvFile(filepath.Join(l.baseDir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			l.logger.Warn("Skipping env file", "file", name, "error", err)
			continue
		}
		for key, value := range vars {
			l.loaded[key] = value
		}
	}
	return nil
}

func readEnvFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	vars := make(map[string]string, len(v.AllKeys()))
	for _, key := range v.AllKeys() {
		vars[strings.ToUpper(key)] = v.GetString(key)
	}
	return vars, nil
}

// Source looks keys up in the process environment first, then in the
// loaded files. Empty process values count as unset.
func (l *EnvLoader) Source() Source {
	return func(key string) string {
		if value := os.Getenv(key); value != "" {
			return value
		}
		return l.loaded[key]
	}
}

// GetLoadedVars returns a copy of the variables read from files.
func (l *EnvLoader) GetLoadedVars() map[string]string {
	result := make(map[string]string, len(l.loaded))
	for k, v := range l.loaded {
		result[k] = v
	}
	return result
}

// AutoLoadEnv loads the dotenv files for the environment named by ENV or
// ENVIRONMENT and returns the combined source.
func AutoLoadEnv(baseDir string) (Source, error) {
	env := os.Getenv("ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = EnvDevelopment
	}

	loader := NewEnvLoader(baseDir)
	if err := loader.LoadEnvFiles(env); err != nil {
		return nil, err
	}
	return loader.Source(), nil
}
