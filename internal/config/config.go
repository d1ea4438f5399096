// Package config loads the orchestrator's runtime configuration: a YAML
// file, overridable by GOCOMET_-prefixed environment variables, further
// overridable by whatever cobra flags the CLI binds on top, mirroring the
// teacher's layered viper setup.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the orchestrator's full runtime configuration.
type Config struct {
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Capability CapabilityConfig `mapstructure:"capability"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ExecutorConfig tunes the DAG Executor's concurrency and retry behavior.
type ExecutorConfig struct {
	WorkersPerRun  int `mapstructure:"workers_per_run"`
	GlobalInFlight int `mapstructure:"global_in_flight"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
	AgentTimeoutMS int `mapstructure:"agent_timeout_ms"`
}

// StorageConfig points at the Artifact Store root and the Run/Node
// Store's SQLite database. An empty DBPath selects the in-memory store.
type StorageConfig struct {
	ArtifactsRoot string `mapstructure:"artifacts_root"`
	DBPath        string `mapstructure:"db_path"`
}

// CapabilityConfig points at the Capability Index manifest.
type CapabilityConfig struct {
	IndexPath string `mapstructure:"index_path"`
}

// LoggingConfig configures internal/logging.Init.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults returns the configuration used when no file, env var, or flag
// overrides a field.
func Defaults() Config {
	return Config{
		Executor: ExecutorConfig{
			WorkersPerRun:  4,
			GlobalInFlight: 16,
			RetryBackoffMS: 250,
			AgentTimeoutMS: 10_000,
		},
		Storage: StorageConfig{
			ArtifactsRoot: "./data/artifacts",
			DBPath:        "./data/orchestrator.db",
		},
		Capability: CapabilityConfig{
			IndexPath: "./capability.yaml",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// envPrefix namespaces every environment variable override, e.g.
// GOCOMET_EXECUTOR_WORKERS_PER_RUN for executor.workers_per_run.
const envPrefix = "GOCOMET"

// Load reads configFile (if non-empty) over the built-in defaults, then
// lets GOCOMET_-prefixed environment variables and any flags already
// bound to v (via BindFlags) override individual fields, and unmarshals
// the result into a Config.
func Load(configFile string) (Config, error) {
	v := viper.New()
	return LoadWith(v, configFile)
}

// LoadWith runs Load against a caller-supplied *viper.Viper instance, so
// BindFlags can bind cobra flags onto the same instance before Load
// reads the file and environment.
func LoadWith(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v, Defaults())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("executor.workers_per_run", d.Executor.WorkersPerRun)
	v.SetDefault("executor.global_in_flight", d.Executor.GlobalInFlight)
	v.SetDefault("executor.retry_backoff_ms", d.Executor.RetryBackoffMS)
	v.SetDefault("executor.agent_timeout_ms", d.Executor.AgentTimeoutMS)
	v.SetDefault("storage.artifacts_root", d.Storage.ArtifactsRoot)
	v.SetDefault("storage.db_path", d.Storage.DBPath)
	v.SetDefault("capability.index_path", d.Capability.IndexPath)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// BindFlags registers the orchestrator's persistent flags on cmd and
// binds each one to v, so a flag the user actually passes takes priority
// over both the config file and the environment once Load unmarshals v.
// Mirrors the teacher's per-command cobra.Flags()+Int64Var style, except
// routed through viper.BindPFlag so a flag's value participates in the
// same override layering as the env and file.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to a YAML config file")
	flags.Int("workers-per-run", 0, "executor worker pool size per run (0 = use config/default)")
	flags.Int("global-in-flight", 0, "max tool processes in flight across all runs (0 = use config/default)")
	flags.String("artifacts-root", "", "artifact store root directory")
	flags.String("db-path", "", "run/node store SQLite database path")
	flags.String("capability-index", "", "capability index manifest path")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")

	binds := map[string]string{
		"executor.workers_per_run":  "workers-per-run",
		"executor.global_in_flight": "global-in-flight",
		"storage.artifacts_root":    "artifacts-root",
		"storage.db_path":           "db-path",
		"capability.index_path":     "capability-index",
		"logging.level":             "log-level",
		"logging.format":            "log-format",
	}
	for key, flag := range binds {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("config: bind flag %s: %w", flag, err)
		}
	}
	return nil
}
