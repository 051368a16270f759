// Package monitor polls every configured (dex, pair) price feed on a fixed
// cadence and maintains the latest-known quote mapping.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/feed"
)

// Target is one (dex, pair) slot polled every cycle.
type Target struct {
	DEX  string
	Pair domain.PairSpec
}

// Config bounds a poll cycle.
type Config struct {
	// Timeout caps each adapter call.
	Timeout time.Duration
	// Concurrency caps the adapter calls in flight at once.
	Concurrency int
}

// Monitor owns the latest quote per (dex, pair). A failed call keeps the
// previous quote, whose ObservedAt then ages it into staleness.
type Monitor struct {
	registry *feed.Registry
	targets  []Target
	cfg      Config
	cache    domain.QuoteCache
	bus      domain.SignalBus
	logger   *slog.Logger

	mu      sync.RWMutex
	latest  domain.QuoteSet
	skipped map[domain.QuoteKey]bool
}

// New creates a Monitor over targets. Adapters are resolved from registry on
// every call so the registry stays the single source of truth.
func New(registry *feed.Registry, targets []Target, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Monitor{
		registry: registry,
		targets:  targets,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "monitor")),
		latest:   make(domain.QuoteSet),
		skipped:  make(map[domain.QuoteKey]bool),
	}
}

// WithCache mirrors every published mapping into cache.
func (m *Monitor) WithCache(cache domain.QuoteCache) *Monitor {
	m.cache = cache
	return m
}

// WithBus publishes every mapping on the quotes channel.
func (m *Monitor) WithBus(bus domain.SignalBus) *Monitor {
	m.bus = bus
	return m
}

// Warm seeds the mapping with cached quotes from a previous run so a failed
// first fetch still has something to retain. Cached quotes keep their
// ObservedAt and age out under the usual staleness rule.
func (m *Monitor) Warm(ctx context.Context) (int, error) {
	if m.cache == nil {
		return 0, nil
	}
	keys := make([]domain.QuoteKey, 0, len(m.targets))
	for _, t := range m.targets {
		keys = append(keys, domain.QuoteKey{DEX: t.DEX, Pair: t.Pair.ID})
	}
	cached, err := m.cache.GetQuotes(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("monitor: warm from cache: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, q := range cached {
		if _, ok := m.latest[k]; !ok {
			m.latest[k] = q
			n++
		}
	}
	return n, nil
}

type pollResult struct {
	key   domain.QuoteKey
	quote domain.Quote
	err   error
}

// Poll runs one cycle: every non-skipped target is queried concurrently,
// each under its own timeout, and the merged mapping (including stale
// entries) is published and returned.
func (m *Monitor) Poll(ctx context.Context) domain.QuoteSet {
	start := time.Now()

	var (
		mu      sync.Mutex
		results = make([]pollResult, 0, len(m.targets))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for _, t := range m.targets {
		key := domain.QuoteKey{DEX: t.DEX, Pair: t.Pair.ID}
		if m.isSkipped(key) {
			continue
		}
		g.Go(func() error {
			q, err := m.fetch(gctx, t)
			mu.Lock()
			results = append(results, pollResult{key: key, quote: q, err: err})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	snapshot, failed := m.merge(ctx, results)

	m.logger.DebugContext(ctx, "poll cycle complete",
		slog.Int("targets", len(m.targets)),
		slog.Int("updated", len(results)-failed),
		slog.Int("failed", failed),
		slog.Duration("took", time.Since(start)),
	)

	m.publish(ctx, snapshot)
	return snapshot
}

// fetch calls the adapter and abandons it once the timeout elapses, even if
// the adapter ignores its context.
func (m *Monitor) fetch(ctx context.Context, t Target) (domain.Quote, error) {
	adapter, err := m.registry.Get(t.DEX)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("monitor: %w: %w", domain.ErrInvalidPair, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	type res struct {
		q   domain.Quote
		err error
	}
	ch := make(chan res, 1)
	go func() {
		q, err := adapter.GetQuote(ctx, t.Pair)
		ch <- res{q: q, err: err}
	}()

	select {
	case r := <-ch:
		return r.q, r.err
	case <-ctx.Done():
		return domain.Quote{}, fmt.Errorf("monitor: %s %s: %w: %w", t.DEX, t.Pair.ID, domain.ErrAdapterUnavailable, ctx.Err())
	}
}

func (m *Monitor) merge(ctx context.Context, results []pollResult) (domain.QuoteSet, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	failed := 0
	for _, r := range results {
		switch {
		case r.err == nil:
			m.latest[r.key] = r.quote
		case errors.Is(r.err, domain.ErrInvalidPair):
			failed++
			m.skipped[r.key] = true
			delete(m.latest, r.key)
			m.logger.WarnContext(ctx, "pair not listed on dex, skipping for this run",
				slog.String("dex", r.key.DEX),
				slog.String("pair", r.key.Pair),
				slog.String("error", r.err.Error()),
			)
		default:
			failed++
			attrs := []any{
				slog.String("dex", r.key.DEX),
				slog.String("pair", r.key.Pair),
				slog.String("error", r.err.Error()),
			}
			if prev, ok := m.latest[r.key]; ok {
				attrs = append(attrs, slog.Duration("retained_age", time.Since(prev.ObservedAt)))
			}
			m.logger.WarnContext(ctx, "quote fetch failed, keeping previous quote", attrs...)
		}
	}
	return m.latest.Clone(), failed
}

func (m *Monitor) publish(ctx context.Context, snapshot domain.QuoteSet) {
	if m.cache != nil {
		if err := m.cache.SetQuotes(ctx, snapshot); err != nil {
			m.logger.WarnContext(ctx, "quote cache update failed", slog.String("error", err.Error()))
		}
	}
	if m.bus != nil {
		payload, err := json.Marshal(sortedQuotes(snapshot))
		if err == nil {
			err = m.bus.Publish(ctx, domain.ChannelQuotes, payload)
		}
		if err != nil {
			m.logger.WarnContext(ctx, "quote publish failed", slog.String("error", err.Error()))
		}
	}
}

// Snapshot returns a copy of the latest mapping.
func (m *Monitor) Snapshot() domain.QuoteSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest.Clone()
}

// Quotes returns the latest quotes ordered by pair then dex.
func (m *Monitor) Quotes() []domain.Quote {
	return sortedQuotes(m.Snapshot())
}

// Skipped returns the keys excluded for the rest of the run.
func (m *Monitor) Skipped() []domain.QuoteKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.QuoteKey, 0, len(m.skipped))
	for k := range m.skipped {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair != out[j].Pair {
			return out[i].Pair < out[j].Pair
		}
		return out[i].DEX < out[j].DEX
	})
	return out
}

func (m *Monitor) isSkipped(key domain.QuoteKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skipped[key]
}

func sortedQuotes(s domain.QuoteSet) []domain.Quote {
	out := make([]domain.Quote, 0, len(s))
	for _, q := range s {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair != out[j].Pair {
			return out[i].Pair < out[j].Pair
		}
		return out[i].DEX < out[j].DEX
	})
	return out
}
