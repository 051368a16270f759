package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/feed"
)

type scriptedAdapter struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, pair domain.PairSpec) (domain.Quote, error)
}

func (s *scriptedAdapter) Name() string { return s.name }

func (s *scriptedAdapter) GetQuote(ctx context.Context, pair domain.PairSpec) (domain.Quote, error) {
	s.calls.Add(1)
	return s.fn(ctx, pair)
}

func priceAdapter(name, price string) *scriptedAdapter {
	return &scriptedAdapter{name: name, fn: func(_ context.Context, pair domain.PairSpec) (domain.Quote, error) {
		return domain.Quote{
			DEX: name, Pair: pair.ID,
			Price:      decimal.RequireFromString(price),
			Liquidity:  decimal.NewFromInt(100),
			ObservedAt: time.Now(),
		}, nil
	}}
}

type recordingBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = make(map[string][][]byte)
	}
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, fmt.Errorf("not supported")
}

type mapCache struct {
	mu     sync.Mutex
	quotes domain.QuoteSet
}

func (c *mapCache) SetQuotes(_ context.Context, quotes domain.QuoteSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quotes == nil {
		c.quotes = make(domain.QuoteSet)
	}
	for k, q := range quotes {
		c.quotes[k] = q
	}
	return nil
}

func (c *mapCache) GetQuotes(_ context.Context, keys []domain.QuoteKey) (domain.QuoteSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(domain.QuoteSet)
	for _, k := range keys {
		if q, ok := c.quotes[k]; ok {
			out[k] = q
		}
	}
	return out, nil
}

var testPair = domain.PairSpec{ID: "WMON/USDC"}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newMonitor(cfg Config, adapters ...feed.Adapter) *Monitor {
	reg := feed.NewRegistry()
	targets := make([]Target, 0, len(adapters))
	for _, a := range adapters {
		reg.Register(a)
		targets = append(targets, Target{DEX: a.Name(), Pair: testPair})
	}
	return New(reg, targets, cfg, testLogger())
}

func TestPoll_CollectsAllQuotes(t *testing.T) {
	bus := &recordingBus{}
	m := newMonitor(Config{Timeout: time.Second, Concurrency: 4},
		priceAdapter("a", "1.00"), priceAdapter("b", "1.02")).WithBus(bus)

	quotes := m.Poll(context.Background())
	require.Len(t, quotes, 2)
	assert.True(t, quotes[domain.QuoteKey{DEX: "b", Pair: testPair.ID}].Price.Equal(decimal.RequireFromString("1.02")))

	require.Len(t, bus.messages[domain.ChannelQuotes], 1)
	var published []domain.Quote
	require.NoError(t, json.Unmarshal(bus.messages[domain.ChannelQuotes][0], &published))
	require.Len(t, published, 2)
	assert.Equal(t, "a", published[0].DEX)
}

func TestPoll_RetainsPreviousQuoteOnFailure(t *testing.T) {
	var fail atomic.Bool
	good := priceAdapter("a", "1.00")
	flaky := &scriptedAdapter{name: "b"}
	observed := time.Now().Add(-time.Minute)
	flaky.fn = func(_ context.Context, pair domain.PairSpec) (domain.Quote, error) {
		if fail.Load() {
			return domain.Quote{}, fmt.Errorf("rpc: %w", domain.ErrAdapterUnavailable)
		}
		return domain.Quote{DEX: "b", Pair: pair.ID, Price: decimal.NewFromInt(2), ObservedAt: observed}, nil
	}
	m := newMonitor(Config{Timeout: time.Second, Concurrency: 2}, good, flaky)

	m.Poll(context.Background())
	fail.Store(true)
	quotes := m.Poll(context.Background())

	prev, ok := quotes[domain.QuoteKey{DEX: "b", Pair: testPair.ID}]
	require.True(t, ok, "failed adapter keeps its last quote")
	assert.Equal(t, observed, prev.ObservedAt, "retained quote is not refreshed")
	assert.False(t, prev.Fresh(time.Now(), 15*time.Second))
	assert.Equal(t, int32(2), flaky.calls.Load(), "unavailable adapters are retried next cycle")
}

func TestPoll_InvalidPairIsSkippedPermanently(t *testing.T) {
	unlisted := &scriptedAdapter{name: "c", fn: func(context.Context, domain.PairSpec) (domain.Quote, error) {
		return domain.Quote{}, fmt.Errorf("no pool: %w", domain.ErrInvalidPair)
	}}
	m := newMonitor(Config{Timeout: time.Second, Concurrency: 2}, priceAdapter("a", "1"), unlisted)

	m.Poll(context.Background())
	quotes := m.Poll(context.Background())

	assert.Len(t, quotes, 1)
	assert.Equal(t, int32(1), unlisted.calls.Load())
	assert.Equal(t, []domain.QuoteKey{{DEX: "c", Pair: testPair.ID}}, m.Skipped())
}

func TestPoll_HungAdapterDoesNotStallCycle(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	hung := &scriptedAdapter{name: "slow", fn: func(context.Context, domain.PairSpec) (domain.Quote, error) {
		<-release // ignores its context
		return domain.Quote{}, nil
	}}
	m := newMonitor(Config{Timeout: 50 * time.Millisecond, Concurrency: 2}, priceAdapter("a", "1"), hung)

	start := time.Now()
	quotes := m.Poll(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, quotes, 1)
	_, ok := quotes[domain.QuoteKey{DEX: "a", Pair: testPair.ID}]
	assert.True(t, ok)
}

func TestPoll_BoundedParallelism(t *testing.T) {
	var inFlight, peak atomic.Int32
	adapters := make([]feed.Adapter, 0, 6)
	for i := range 6 {
		name := fmt.Sprintf("dex%d", i)
		adapters = append(adapters, &scriptedAdapter{name: name, fn: func(_ context.Context, pair domain.PairSpec) (domain.Quote, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return domain.Quote{DEX: name, Pair: pair.ID, Price: decimal.NewFromInt(1), ObservedAt: time.Now()}, nil
		}})
	}
	m := newMonitor(Config{Timeout: time.Second, Concurrency: 2}, adapters...)

	quotes := m.Poll(context.Background())
	assert.Len(t, quotes, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWarm_FirstFailureFallsBackToCache(t *testing.T) {
	observed := time.Now().Add(-5 * time.Second)
	key := domain.QuoteKey{DEX: "b", Pair: testPair.ID}
	cache := &mapCache{}
	require.NoError(t, cache.SetQuotes(context.Background(), domain.QuoteSet{
		key: {DEX: "b", Pair: testPair.ID, Price: decimal.NewFromInt(2), ObservedAt: observed},
	}))
	require.NoError(t, cache.SetQuotes(context.Background(), domain.QuoteSet{
		{DEX: "unconfigured", Pair: "X/Y"}: {DEX: "unconfigured", Pair: "X/Y"},
	}))
	down := &scriptedAdapter{name: "b", fn: func(context.Context, domain.PairSpec) (domain.Quote, error) {
		return domain.Quote{}, fmt.Errorf("rpc: %w", domain.ErrAdapterUnavailable)
	}}
	m := newMonitor(Config{Timeout: time.Second, Concurrency: 2}, priceAdapter("a", "1.00"), down).WithCache(cache)

	n, err := m.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only configured targets are restored")

	quotes := m.Poll(context.Background())
	require.Len(t, quotes, 2)
	assert.Equal(t, observed, quotes[key].ObservedAt, "cached quote is retained with its original age")
	assert.True(t, quotes[key].Fresh(time.Now(), 15*time.Second))

	// The poll wrote the merged mapping back to the cache.
	got, err := cache.GetQuotes(context.Background(), []domain.QuoteKey{{DEX: "a", Pair: testPair.ID}})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWarm_NoCache(t *testing.T) {
	n, err := newMonitor(Config{Timeout: time.Second}, priceAdapter("a", "1.00")).Warm(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
