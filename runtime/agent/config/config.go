// Package config loads the runtime's tunable surface (spec.md §6.6) through
// viper, the way the rest of the pack's CLIs layer configuration over
// defaults: environment variables prefixed AGENTCORE_, an optional YAML
// file, and the documented defaults as the final fallback.
package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config mirrors spec.md §6.6's configuration surface exactly: one field per
// documented tunable.
type Config struct {
	MaxIterationsPerRun      int           `mapstructure:"max_iterations_per_run"`
	MaxIterationsPerTask     int           `mapstructure:"max_iterations_per_task"`
	ToolCallTimeout          time.Duration `mapstructure:"tool_call_timeout_s"`
	CheckpointInterval       int           `mapstructure:"checkpoint_interval"`
	MaxCheckpoints           int           `mapstructure:"max_checkpoints"`
	FindingsRecordEveryN     int           `mapstructure:"findings_record_every_n_actions"`
	StrikeThreshold          int           `mapstructure:"strike_threshold"`
	SandboxPoolMax           int           `mapstructure:"sandbox_pool_max"`
	SandboxPoolMin           int           `mapstructure:"sandbox_pool_min"`
	SandboxIdleTimeout       time.Duration `mapstructure:"sandbox_idle_timeout_s"`
	SkillConfidenceThreshold float64       `mapstructure:"skill_confidence_threshold"`
	StructuredTaskThreshold  float64       `mapstructure:"structured_task_threshold"`
	ContextSummaryTriggerRatio float64     `mapstructure:"context_summary_trigger_ratio"`
	ConfirmationTimeout      time.Duration `mapstructure:"confirmation_timeout_s"`
}

// Default returns spec.md §6.6's documented defaults.
func Default() Config {
	return Config{
		MaxIterationsPerRun:        50,
		MaxIterationsPerTask:       10,
		ToolCallTimeout:            30 * time.Second,
		CheckpointInterval:         5,
		MaxCheckpoints:             3,
		FindingsRecordEveryN:       2,
		StrikeThreshold:            3,
		SandboxPoolMax:             10,
		SandboxPoolMin:             2,
		SandboxIdleTimeout:         300 * time.Second,
		SkillConfidenceThreshold:   0.85,
		StructuredTaskThreshold:    0.70,
		ContextSummaryTriggerRatio: 0.70,
		ConfirmationTimeout:        300 * time.Second,
	}
}

// envPrefix namespaces every environment variable this runtime recognizes,
// e.g. AGENTCORE_MAX_ITERATIONS_PER_RUN.
const envPrefix = "AGENTCORE"

// Load builds a Config by layering, in increasing priority: the documented
// defaults, an optional YAML file at path (ignored if empty or missing),
// and AGENTCORE_-prefixed environment variables.
func Load(path string) (Config, error) {
	def := Default()
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("max_iterations_per_run", def.MaxIterationsPerRun)
	v.SetDefault("max_iterations_per_task", def.MaxIterationsPerTask)
	v.SetDefault("tool_call_timeout_s", def.ToolCallTimeout)
	v.SetDefault("checkpoint_interval", def.CheckpointInterval)
	v.SetDefault("max_checkpoints", def.MaxCheckpoints)
	v.SetDefault("findings_record_every_n_actions", def.FindingsRecordEveryN)
	v.SetDefault("strike_threshold", def.StrikeThreshold)
	v.SetDefault("sandbox_pool_max", def.SandboxPoolMax)
	v.SetDefault("sandbox_pool_min", def.SandboxPoolMin)
	v.SetDefault("sandbox_idle_timeout_s", def.SandboxIdleTimeout)
	v.SetDefault("skill_confidence_threshold", def.SkillConfidenceThreshold)
	v.SetDefault("structured_task_threshold", def.StructuredTaskThreshold)
	v.SetDefault("context_summary_trigger_ratio", def.ContextSummaryTriggerRatio)
	v.SetDefault("confirmation_timeout_s", def.ConfirmationTimeout)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
