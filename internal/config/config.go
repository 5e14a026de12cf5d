// Package config loads and validates the process configuration file.
// Values support ${VAR} expansion against the process environment and
// `$include` composition across files.
package config

import (
	"fmt"
	"time"

	"github.com/aof-dev/aof/internal/resources"
	"github.com/aof-dev/aof/internal/safety"
	"github.com/aof-dev/aof/pkg/models"
)

// Config is the full process configuration.
type Config struct {
	Server        ServerConfig                              `yaml:"server"`
	Resources     ResourcesConfig                           `yaml:"resources"`
	LLM           LLMConfig                                 `yaml:"llm"`
	Orchestrator  OrchestratorConfig                        `yaml:"orchestrator"`
	Flows         FlowsConfig                               `yaml:"flows"`
	Sessions      SessionsConfig                            `yaml:"sessions"`
	Audit         AuditConfig                               `yaml:"audit"`
	Safety        map[models.Platform]safety.PlatformPolicy `yaml:"safety,omitempty"`
	Platforms     PlatformsConfig                           `yaml:"platforms"`
	Observability ObservabilityConfig                       `yaml:"observability"`
}

// ServerConfig configures the gateway HTTP server.
type ServerConfig struct {
	Addr      string             `yaml:"addr"`
	JWTSecret string             `yaml:"jwt_secret,omitempty"`
	DedupeTTL resources.Duration `yaml:"dedupe_ttl,omitempty"`
}

// ResourcesConfig locates the declarative resource files.
type ResourcesConfig struct {
	Dir            string `yaml:"dir"`
	DefaultContext string `yaml:"default_context,omitempty"`
	// Watch reloads resources on file change.
	Watch bool `yaml:"watch,omitempty"`
}

// LLMConfig selects and configures model providers.
type LLMConfig struct {
	// Provider is the default: "anthropic" or "openai".
	Provider      string         `yaml:"provider"`
	Anthropic     ProviderConfig `yaml:"anthropic,omitempty"`
	OpenAI        ProviderConfig `yaml:"openai,omitempty"`
	MaxIterations int            `yaml:"max_iterations,omitempty"`
}

// ProviderConfig holds one provider's credentials and default model.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	Model   string `yaml:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// OrchestratorConfig bounds task admission.
type OrchestratorConfig struct {
	MaxConcurrentTasks int                `yaml:"max_concurrent_tasks,omitempty"`
	MaxTasksPerUser    int                `yaml:"max_tasks_per_user,omitempty"`
	TaskTimeout        resources.Duration `yaml:"task_timeout,omitempty"`
}

// FlowsConfig configures flow run persistence.
type FlowsConfig struct {
	CheckpointDir string `yaml:"checkpoint_dir,omitempty"`
}

// SessionsConfig configures transcript persistence.
type SessionsConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// AuditConfig selects the audit sink.
type AuditConfig struct {
	Enabled bool     `yaml:"enabled,omitempty"`
	Sink    string   `yaml:"sink,omitempty"` // file | sqlite
	Path    string   `yaml:"path,omitempty"`
	Events  []string `yaml:"events,omitempty"`
}

// PlatformsConfig holds outbound chat credentials.
type PlatformsConfig struct {
	Slack    SlackConfig    `yaml:"slack,omitempty"`
	Discord  DiscordConfig  `yaml:"discord,omitempty"`
	Telegram TelegramConfig `yaml:"telegram,omitempty"`
}

// SlackConfig configures the Slack responder.
type SlackConfig struct {
	BotToken string `yaml:"bot_token,omitempty"`
}

// DiscordConfig configures the Discord responder.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token,omitempty"`
}

// TelegramConfig configures the Telegram responder.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token,omitempty"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level,omitempty"`
	LogFormat string `yaml:"log_format,omitempty"`
	AddSource bool   `yaml:"add_source,omitempty"`

	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string  `yaml:"otlp_endpoint,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`
	Environment  string  `yaml:"environment,omitempty"`
	Insecure     bool    `yaml:"insecure,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8080",
			DedupeTTL: resources.Duration(10 * time.Minute),
		},
		Resources: ResourcesConfig{Dir: "resources"},
		LLM: LLMConfig{
			Provider:      "anthropic",
			MaxIterations: 10,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentTasks: 50,
			MaxTasksPerUser:    5,
			TaskTimeout:        resources.Duration(10 * time.Minute),
		},
		Flows:    FlowsConfig{CheckpointDir: ".aof/checkpoints"},
		Sessions: SessionsConfig{},
		Audit:    AuditConfig{Sink: "file", Path: ".aof/audit.jsonl"},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// applyDefaults fills zero values from Default.
func (c *Config) applyDefaults() {
	defaults := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.DedupeTTL == 0 {
		c.Server.DedupeTTL = defaults.Server.DedupeTTL
	}
	if c.Resources.Dir == "" {
		c.Resources.Dir = defaults.Resources.Dir
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaults.LLM.Provider
	}
	if c.LLM.MaxIterations <= 0 {
		c.LLM.MaxIterations = defaults.LLM.MaxIterations
	}
	if c.Orchestrator.MaxConcurrentTasks <= 0 {
		c.Orchestrator.MaxConcurrentTasks = defaults.Orchestrator.MaxConcurrentTasks
	}
	if c.Orchestrator.MaxTasksPerUser <= 0 {
		c.Orchestrator.MaxTasksPerUser = defaults.Orchestrator.MaxTasksPerUser
	}
	if c.Orchestrator.TaskTimeout == 0 {
		c.Orchestrator.TaskTimeout = defaults.Orchestrator.TaskTimeout
	}
	if c.Flows.CheckpointDir == "" {
		c.Flows.CheckpointDir = defaults.Flows.CheckpointDir
	}
	if c.Audit.Sink == "" {
		c.Audit.Sink = defaults.Audit.Sink
	}
	if c.Audit.Path == "" {
		c.Audit.Path = defaults.Audit.Path
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = defaults.Observability.LogLevel
	}
	if c.Observability.LogFormat == "" {
		c.Observability.LogFormat = defaults.Observability.LogFormat
	}
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm provider must be anthropic or openai (got %q)", c.LLM.Provider)
	}
	switch c.Audit.Sink {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("audit sink must be file or sqlite (got %q)", c.Audit.Sink)
	}
	switch c.Observability.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("log format must be json or text (got %q)", c.Observability.LogFormat)
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be within [0,1] (got %v)", c.Observability.SamplingRate)
	}
	return nil
}
