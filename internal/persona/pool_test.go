package persona

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// sequenceRand replays fixed draws.
type sequenceRand struct {
	ints   []int
	floats []float64
}

func (s *sequenceRand) Intn(n int) int {
	v := s.ints[0] % n
	s.ints = append(s.ints[1:], s.ints[0])
	return v
}

func (s *sequenceRand) Float64() float64 {
	v := s.floats[0]
	s.floats = append(s.floats[1:], s.floats[0])
	return v
}

func TestPoolFallsBackToDefaults(t *testing.T) {
	for _, names := range [][]string{nil, {}, {"  ", ""}} {
		pool := NewPool(names, rand.New(rand.NewSource(1)))
		require.True(t, pool.IsFallback())
		require.Equal(t, DefaultPersonas, pool.Names())
		require.Contains(t, DefaultPersonas, pool.Draw())
	}
}

func TestPoolDropsBlankAndDuplicateNames(t *testing.T) {
	pool := NewPool([]string{"Daydreamer", " daydreamer ", "", "critic"}, &sequenceRand{ints: []int{1}})
	require.False(t, pool.IsFallback())
	require.Equal(t, []string{"Daydreamer", "critic"}, pool.Names())
	require.Equal(t, "critic", pool.Draw())
}

func TestPoolUniformDrawFollowsSource(t *testing.T) {
	pool := NewPool([]string{"a", "b", "c"}, &sequenceRand{ints: []int{2, 0, 1}})
	require.Equal(t, []string{"c", "a", "b"}, []string{pool.Draw(), pool.Draw(), pool.Draw()})
}

func TestPoolWeightedDraw(t *testing.T) {
	pool := NewWeightedPool([]Weighted{{Name: "rare", Weight: 1}, {Name: "common", Weight: 3}},
		&sequenceRand{floats: []float64{0.1, 0.3, 0.99}})
	require.Equal(t, "rare", pool.Draw())
	require.Equal(t, "common", pool.Draw())
	require.Equal(t, "common", pool.Draw())
}

func TestPoolConcurrentDraws(t *testing.T) {
	pool := NewPool([]string{"a", "b"}, rand.New(rand.NewSource(7)))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				require.Contains(t, []string{"a", "b"}, pool.Draw())
			}
		}()
	}
	wg.Wait()
}

func TestResolverCachesAndDegrades(t *testing.T) {
	calls := 0
	source := SourceFunc(func(_ context.Context, caller string) ([]Weighted, error) {
		calls++
		if caller == "broken" {
			return nil, errors.New("db down")
		}
		return []Weighted{{Name: "chatty neighbor"}}, nil
	})
	resolver := NewResolver(source, ResolverConfig{}, nil)
	ctx := context.Background()

	require.Equal(t, []string{"chatty neighbor"}, resolver.Pool(ctx, "u1", nil).Names())
	require.Equal(t, []string{"chatty neighbor"}, resolver.Pool(ctx, "u1", nil).Names())
	require.Equal(t, 1, calls)

	resolver.Invalidate("u1")
	resolver.Pool(ctx, "u1", nil)
	require.Equal(t, 2, calls)

	require.True(t, resolver.Pool(ctx, "broken", nil).IsFallback())

	var nilResolver *Resolver
	require.True(t, nilResolver.Pool(ctx, "u1", nil).IsFallback())
}

func TestResolverExpiresCachedPersonas(t *testing.T) {
	defer goleak.VerifyNone(t)

	calls := 0
	source := SourceFunc(func(context.Context, string) ([]Weighted, error) {
		calls++
		return []Weighted{{Name: "night owl"}}, nil
	})
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewResolver(source, ResolverConfig{CacheTTL: time.Minute}, nil)
	resolver.now = func() time.Time { return clock }
	ctx := context.Background()

	resolver.Pool(ctx, "u1", nil)
	clock = clock.Add(30 * time.Second)
	resolver.Pool(ctx, "u1", nil)
	require.Equal(t, 1, calls)

	clock = clock.Add(time.Minute)
	require.Equal(t, []string{"night owl"}, resolver.Pool(ctx, "u1", nil).Names())
	require.Equal(t, 2, calls)
}
