// Package di assembles quill's services from a resolved configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"quill/internal/agent"
	"quill/internal/app"
	"quill/internal/config"
	"quill/internal/detect"
	qerrors "quill/internal/errors"
	"quill/internal/llm"
	"quill/internal/observability"
	"quill/internal/persona"
	"quill/internal/pipeline"
	"quill/internal/shared/logging"
	"quill/internal/store"
)

// Container holds the wired application services.
type Container struct {
	Config   config.Config
	Runs     *app.Service
	Personas *app.PersonaService
	Store    *store.Store
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Tracing  *observability.TracerProvider
	Backends *llm.Registry
}

// Cleanup stops in-flight runs and releases resources.
func (c *Container) Cleanup(ctx context.Context) error {
	var errs []error
	if c.Runs != nil {
		errs = append(errs, c.Runs.Shutdown(ctx))
	}
	if c.Tracing != nil {
		errs = append(errs, c.Tracing.Shutdown(ctx))
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}

type containerBuilder struct {
	config config.Config
	logger logging.Logger
}

// BuildContainer wires every service described by cfg.
func BuildContainer(ctx context.Context, cfg config.Config) (*Container, error) {
	b := &containerBuilder{config: cfg, logger: logging.NewComponentLogger("DI")}
	return b.Build(ctx)
}

func (b *containerBuilder) Build(ctx context.Context) (c *Container, err error) {
	c = &Container{Config: b.config}
	defer func() {
		if err != nil {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Cleanup(cleanupCtx)
		}
	}()

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = observability.MustNewMetrics(c.Registry)

	c.Tracing, err = observability.NewTracerProvider(ctx, b.config.Tracing)
	if err != nil {
		return c, fmt.Errorf("tracing: %w", err)
	}

	c.Store, err = b.buildStore(ctx)
	if err != nil {
		return c, err
	}

	c.Backends, err = b.buildBackends(ctx, c.Metrics)
	if err != nil {
		return c, err
	}

	classifier, err := b.buildClassifier()
	if err != nil {
		return c, err
	}

	resolver := persona.NewResolver(c.Store, persona.ResolverConfig{
		CacheSize: b.config.Personas.CacheSize,
		CacheTTL:  b.config.Personas.CacheTTL,
	}, logging.NewComponentLogger("Personas"))

	executor := pipeline.NewExecutor(c.Backends,
		pipeline.WithLogger(logging.NewComponentLogger("Executor")),
		pipeline.WithMetrics(c.Metrics),
		pipeline.WithTracer(c.Tracing.Tracer()),
		pipeline.WithTaskTimeout(b.config.Pipeline.TaskTimeout),
	)
	pc := b.config.Pipeline
	c.Runs = app.NewService(executor, app.Defaults{
		Micro: pipeline.MicroCounts{
			Intro:      pc.Micro.Intro,
			Body:       pc.Micro.Body,
			Conclusion: pc.Micro.Conclusion,
		},
		RefinementPasses: pc.RefinementPasses,
		MaxDynamicTasks:  pc.MaxDynamicTasks,
		Finishing:        pc.Finishing,
	}, c.Metrics,
		app.WithClassifier(classifier),
		app.WithHistory(c.Store),
		app.WithPersonas(resolver),
		app.WithMonitor(pipeline.NewMonitor(pc.PollInterval)),
		app.WithResultRetention(pc.ResultRetention),
	)

	primary, err := c.Backends.Resolve(agent.BackendPrimary)
	if err != nil {
		return c, err
	}
	generator := persona.NewGenerator(primary, logging.NewComponentLogger("PersonaGenerator"))
	c.Personas = app.NewPersonaService(generator, c.Store, resolver)

	b.logger.Info("container built: store=%s primary=%s/%s entropy=%s/%s detect=%s",
		b.config.Store.Path,
		b.config.Backends.Primary.Provider, b.config.Backends.Primary.Model,
		b.config.Backends.Entropy.Provider, b.config.Backends.Entropy.Model,
		b.config.Detect.Provider)
	return c, nil
}

func (b *containerBuilder) buildStore(ctx context.Context) (*store.Store, error) {
	path := b.config.Store.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := store.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (b *containerBuilder) buildBackends(ctx context.Context, metrics *observability.Metrics) (*llm.Registry, error) {
	registry := llm.NewRegistry()
	for ref, bc := range map[string]config.BackendConfig{
		agent.BackendPrimary: b.config.Backends.Primary,
		agent.BackendEntropy: b.config.Backends.Entropy,
	} {
		backend, err := b.buildBackend(ctx, ref, bc, metrics)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", ref, err)
		}
		registry.Register(ref, backend)
	}
	return registry, nil
}

func (b *containerBuilder) buildBackend(ctx context.Context, ref string, bc config.BackendConfig, metrics *observability.Metrics) (llm.Backend, error) {
	cfg := llm.Config{
		Model:    bc.Model,
		APIKey:   bc.APIKey,
		BaseURL:  bc.BaseURL,
		Timeout:  bc.Timeout,
		Defaults: map[string]float64{agent.ParamTemperature: bc.Temperature},
	}
	var (
		backend llm.Backend
		err     error
	)
	switch bc.Provider {
	case "mock":
		// Offline runs skip retries; the mock never fails.
		return llm.Clamp(llm.NewMockBackend(), b.config.Pipeline.MaxPromptTokens), nil
	case "gemini":
		backend, err = llm.NewGeminiBackend(ctx, cfg)
	default:
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		backend, err = llm.NewOpenAIBackend(cfg)
	}
	if err != nil {
		return nil, err
	}
	backend = llm.Clamp(backend, b.config.Pipeline.MaxPromptTokens)

	rc := b.config.Retry
	retry := qerrors.RetryConfig{
		MaxRetries: rc.MaxRetries,
		BaseDelay:  rc.BaseDelay,
		MaxDelay:   rc.MaxDelay,
		OnRetry: func(int, time.Duration, error) {
			metrics.IncBackendRetry(ref)
		},
	}
	breakerCfg := qerrors.DefaultCircuitBreakerConfig()
	if rc.BreakerThreshold > 0 {
		breakerCfg.FailureThreshold = rc.BreakerThreshold
	}
	if rc.BreakerTimeout > 0 {
		breakerCfg.Timeout = rc.BreakerTimeout
	}
	logger := logging.Prefixed(logging.NewComponentLogger("llm"), "backend="+ref+" ")
	breaker := qerrors.NewCircuitBreaker(ref, breakerCfg, logger)
	return llm.NewRetryBackend(backend, retry, breaker, logger), nil
}

func (b *containerBuilder) buildClassifier() (detect.Classifier, error) {
	dc := b.config.Detect
	switch dc.Provider {
	case "zerogpt":
		return detect.NewZeroGPT(detect.ZeroGPTConfig{
			URL:     dc.URL,
			APIKey:  dc.APIKey,
			Timeout: dc.Timeout,
		}, logging.NewComponentLogger("ZeroGPT"))
	default:
		return detect.Noop(), nil
	}
}
