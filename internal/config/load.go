package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. QUILL_SERVER_ADDR.
const EnvPrefix = "QUILL"

var defaults = map[string]any{
	"server.addr":             ":8080",
	"server.allowed_origins":  []string{"*"},
	"server.shutdown_timeout": "10s",

	"logging.level":  "info",
	"logging.format": "console",
	"logging.output": "stderr",

	"tracing.enabled":      false,
	"tracing.exporter":     "otlp",
	"tracing.sample_rate":  1.0,
	"tracing.service_name": "quill",

	"store.path": "~/.quill/quill.db",

	"pipeline.micro.intro":       2,
	"pipeline.micro.body":        4,
	"pipeline.micro.conclusion":  2,
	"pipeline.refinement_passes": 1,
	"pipeline.max_dynamic_tasks": 40,
	"pipeline.finishing":         []string{"MemoryNoise", "RhythmBreaker", "HumanOverthinker", "EntropyBreaker", "Editor", "FinalDisorder", "Publisher"},
	"pipeline.task_timeout":      "0s",
	"pipeline.poll_interval":     "500ms",
	"pipeline.result_retention":  "1h",
	"pipeline.max_prompt_tokens": 0,

	"backends.primary.provider":    "openai",
	"backends.primary.model":       "gpt-4.1-mini",
	"backends.primary.timeout":     "120s",
	"backends.primary.temperature": 1.0,
	"backends.entropy.provider":    "openai",
	"backends.entropy.model":       "gpt-4o-mini",
	"backends.entropy.timeout":     "120s",
	"backends.entropy.temperature": 1.7,

	"retry.max_retries":       8,
	"retry.base_delay":        "1s",
	"retry.max_delay":         "20s",
	"retry.breaker_threshold": 5,
	"retry.breaker_timeout":   "30s",

	"detect.provider": "none",
	"detect.timeout":  "30s",

	"personas.cache_size": 256,
	"personas.cache_ttl":  "1m",
}

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	path    string
	flags   *pflag.FlagSet
	binding map[string]string
	homeDir func() (string, error)
}

// WithConfigPath reads the YAML file at path. A missing explicit file is an
// error; without this option the default locations are optional.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.path = strings.TrimSpace(path) }
}

// WithFlags binds command flags to config keys. binding maps a config key
// to a flag name; only flags the user changed override other sources.
func WithFlags(flags *pflag.FlagSet, binding map[string]string) Option {
	return func(o *loadOptions) {
		o.flags = flags
		o.binding = binding
	}
}

// WithHomeDir overrides home directory resolution.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) { o.homeDir = resolver }
}

// Load resolves the configuration. Precedence, highest first: changed
// flags, environment, config file, defaults.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{homeDir: os.UserHomeDir}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if options.path != "" {
		v.SetConfigFile(options.path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", options.path, err)
		}
	} else {
		v.SetConfigName("quill")
		v.AddConfigPath(".")
		if home, err := options.homeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".quill"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if options.flags != nil {
		for key, name := range options.binding {
			flag := options.flags.Lookup(name)
			if flag == nil {
				return Config{}, fmt.Errorf("bind %s: unknown flag %q", key, name)
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg, options.homeDir)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalize(cfg *Config, homeDir func() (string, error)) {
	cfg.Store.Path = expandHome(strings.TrimSpace(cfg.Store.Path), homeDir)
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Backends.Primary.Provider = strings.ToLower(strings.TrimSpace(cfg.Backends.Primary.Provider))
	cfg.Backends.Entropy.Provider = strings.ToLower(strings.TrimSpace(cfg.Backends.Entropy.Provider))
	cfg.Detect.Provider = strings.ToLower(strings.TrimSpace(cfg.Detect.Provider))
	// A comma separated env value arrives as one element.
	if len(cfg.Pipeline.Finishing) == 1 && strings.Contains(cfg.Pipeline.Finishing[0], ",") {
		cfg.Pipeline.Finishing = splitList(cfg.Pipeline.Finishing[0])
	}
	if len(cfg.Server.AllowedOrigins) == 1 && strings.Contains(cfg.Server.AllowedOrigins[0], ",") {
		cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins[0])
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func expandHome(path string, homeDir func() (string, error)) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := homeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate rejects settings that cannot produce a working service.
func (c Config) Validate() error {
	switch {
	case c.Pipeline.Micro.Intro < 0 || c.Pipeline.Micro.Body < 0 || c.Pipeline.Micro.Conclusion < 0:
		return fmt.Errorf("pipeline.micro counts must not be negative")
	case c.Pipeline.MaxDynamicTasks < 0:
		return fmt.Errorf("pipeline.max_dynamic_tasks must not be negative")
	case c.Pipeline.PollInterval <= 0:
		return fmt.Errorf("pipeline.poll_interval must be positive")
	case c.Retry.MaxRetries < 0:
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	for name, b := range map[string]BackendConfig{"primary": c.Backends.Primary, "entropy": c.Backends.Entropy} {
		switch b.Provider {
		case "openai", "gemini", "mock":
		default:
			return fmt.Errorf("backends.%s.provider: unsupported %q", name, b.Provider)
		}
	}
	switch c.Detect.Provider {
	case "none", "", "zerogpt":
	default:
		return fmt.Errorf("detect.provider: unsupported %q", c.Detect.Provider)
	}
	return nil
}
