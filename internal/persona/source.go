package persona

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"quill/internal/shared/logging"
)

// Source loads the enabled personas of one caller.
type Source interface {
	Personas(ctx context.Context, callerID string) ([]Weighted, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, callerID string) ([]Weighted, error)

func (f SourceFunc) Personas(ctx context.Context, callerID string) ([]Weighted, error) {
	return f(ctx, callerID)
}

// StaticSource returns the same personas for every caller.
type StaticSource []Weighted

func (s StaticSource) Personas(context.Context, string) ([]Weighted, error) {
	return append([]Weighted(nil), s...), nil
}

// Resolver turns a caller into a Pool, caching lookups for a short time.
// Lookup failures degrade to the default personas. Expiry is checked on read
// so a Resolver owns no background goroutine.
type Resolver struct {
	source Source
	cache  *lru.Cache[string, cachedPersonas]
	ttl    time.Duration
	now    func() time.Time
	logger logging.Logger
}

type cachedPersonas struct {
	items   []Weighted
	expires time.Time
}

// ResolverConfig configures caching for a Resolver.
type ResolverConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// NewResolver wraps source. A nil source always yields the defaults.
func NewResolver(source Source, cfg ResolverConfig, logger logging.Logger) *Resolver {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	cache, _ := lru.New[string, cachedPersonas](cfg.CacheSize) // size is positive
	return &Resolver{
		source: source,
		cache:  cache,
		ttl:    cfg.CacheTTL,
		now:    time.Now,
		logger: logging.OrNop(logger),
	}
}

// Pool returns the persona pool for callerID. It never fails.
func (r *Resolver) Pool(ctx context.Context, callerID string, rng Rand) *Pool {
	if r == nil || r.source == nil {
		return NewPool(nil, rng)
	}
	if cached, ok := r.cache.Get(callerID); ok {
		if r.now().Before(cached.expires) {
			return NewWeightedPool(cached.items, rng)
		}
		r.cache.Remove(callerID)
	}

	items, err := r.source.Personas(ctx, callerID)
	if err != nil {
		r.logger.Warn("persona lookup for %q failed, using defaults: %v", callerID, err)
		return NewPool(nil, rng)
	}
	r.cache.Add(callerID, cachedPersonas{items: items, expires: r.now().Add(r.ttl)})
	pool := NewWeightedPool(items, rng)
	if pool.IsFallback() {
		r.logger.Debug("caller %q has no enabled personas, using defaults", callerID)
	}
	return pool
}

// Invalidate drops the cached personas of callerID.
func (r *Resolver) Invalidate(callerID string) {
	if r == nil {
		return
	}
	r.cache.Remove(callerID)
}
