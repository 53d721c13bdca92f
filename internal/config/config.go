// Package config loads quill's runtime configuration from defaults, an
// optional YAML file, QUILL_* environment variables and command flags.
package config

import (
	"time"

	"quill/internal/observability"
)

// Config is the resolved runtime configuration.
type Config struct {
	Server   ServerConfig                `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig               `mapstructure:"logging" yaml:"logging"`
	Tracing  observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Store    StoreConfig                 `mapstructure:"store" yaml:"store"`
	Pipeline PipelineConfig              `mapstructure:"pipeline" yaml:"pipeline"`
	Backends BackendsConfig              `mapstructure:"backends" yaml:"backends"`
	Retry    RetryConfig                 `mapstructure:"retry" yaml:"retry"`
	Detect   DetectConfig                `mapstructure:"detect" yaml:"detect"`
	Personas PersonaConfig               `mapstructure:"personas" yaml:"personas"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MicroConfig sets the micro task count per section.
type MicroConfig struct {
	Intro      int `mapstructure:"intro" yaml:"intro"`
	Body       int `mapstructure:"body" yaml:"body"`
	Conclusion int `mapstructure:"conclusion" yaml:"conclusion"`
}

type PipelineConfig struct {
	Micro            MicroConfig   `mapstructure:"micro" yaml:"micro"`
	RefinementPasses int           `mapstructure:"refinement_passes" yaml:"refinement_passes"`
	MaxDynamicTasks  int           `mapstructure:"max_dynamic_tasks" yaml:"max_dynamic_tasks"`
	Finishing        []string      `mapstructure:"finishing" yaml:"finishing"`
	TaskTimeout      time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ResultRetention  time.Duration `mapstructure:"result_retention" yaml:"result_retention"`
	MaxPromptTokens  int           `mapstructure:"max_prompt_tokens" yaml:"max_prompt_tokens"`
}

// BackendConfig describes one generation backend.
type BackendConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"` // openai, gemini, mock
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
}

type BackendsConfig struct {
	Primary BackendConfig `mapstructure:"primary" yaml:"primary"`
	Entropy BackendConfig `mapstructure:"entropy" yaml:"entropy"`
}

type RetryConfig struct {
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay        time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	BreakerThreshold int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout" yaml:"breaker_timeout"`
}

type DetectConfig struct {
	Provider string        `mapstructure:"provider" yaml:"provider"` // zerogpt, none
	URL      string        `mapstructure:"url" yaml:"url"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type PersonaConfig struct {
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}
