package arbitrage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

var (
	now  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pair = domain.PairSpec{ID: "WMON/USDC", GasTokenPrice: decimal.NewFromInt(1)}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func thresholds() Thresholds {
	return Thresholds{
		MinProfitThreshold: d("0.01"),
		MaxTradeAmount:     d("1"),
		PriceDiffThreshold: d("1"),
		MaxGasPriceGwei:    d("1"),
		GasUnitsPerSwap:    170_000,
		AmountPrecision:    6,
		QuoteStaleness:     15 * time.Second,
	}
}

func dexes(names ...string) map[string]domain.DEXSpec {
	out := make(map[string]domain.DEXSpec, len(names))
	for _, n := range names {
		out[n] = domain.DEXSpec{Name: n, FeeBps: 30}
	}
	return out
}

func newDetector(th Thresholds, bus domain.SignalBus, names ...string) *Detector {
	return NewDetector(DetectorConfig{
		Pairs:      []domain.PairSpec{pair},
		DEXes:      dexes(names...),
		Thresholds: th,
		Bus:        bus,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func quotes(prices map[string]string) domain.QuoteSet {
	set := make(domain.QuoteSet)
	for dex, p := range prices {
		q := domain.Quote{DEX: dex, Pair: pair.ID, Price: d(p), Liquidity: d("1000"), ObservedAt: now}
		set[q.Key()] = q
	}
	return set
}

func TestEvaluate(t *testing.T) {
	est := Evaluate(d("1"), d("1.00"), d("1.02"), 30, 30, d("0.00034"))
	assert.True(t, est.Base.Equal(d("0.997")), est.Base.String())
	assert.True(t, est.Output.Equal(d("1.01388918")), est.Output.String())
	assert.True(t, est.Profit.Equal(d("0.01354918")), est.Profit.String())
}

func TestGasCost(t *testing.T) {
	assert.True(t, GasCost(2, 170_000, d("1"), d("1")).Equal(d("0.00034")))
	assert.True(t, GasCost(2, 200_000, d("50"), d("2")).Equal(d("0.04")))
	assert.True(t, GasCost(2, 200_000, d("50"), decimal.Zero).IsZero())
}

func TestDetect_BuysCheapSellsDear(t *testing.T) {
	det := newDetector(thresholds(), nil, "A", "B")
	plans := det.Detect(quotes(map[string]string{"A": "1.00", "B": "1.02"}), now)

	require.Len(t, plans, 1)
	p := plans[0]
	assert.Equal(t, "A", p.BuyDEX)
	assert.Equal(t, "B", p.SellDEX)
	assert.Equal(t, domain.PlanArbitrage, p.Kind)
	assert.True(t, p.SpreadPct.Equal(d("2")), p.SpreadPct.String())
	assert.True(t, p.InputAmount.Equal(d("1")))
	assert.True(t, p.ExpectedProfit.Equal(d("0.01354918")), p.ExpectedProfit.String())
	assert.True(t, p.ExpectedProfit.Equal(p.ExpectedOutput.Sub(p.InputAmount).Sub(p.EstimatedGasCost)))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, now, p.CreatedAt)
}

func TestDetect_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		prices map[string]string
		tune   func(*Thresholds)
		stale  string
	}{
		{name: "spread below threshold", prices: map[string]string{"A": "1.00", "B": "1.005"}},
		{name: "profit below threshold", prices: map[string]string{"A": "1.00", "B": "1.02"},
			tune: func(th *Thresholds) { th.MinProfitThreshold = d("0.05") }},
		{name: "gas eats the edge", prices: map[string]string{"A": "1.00", "B": "1.02"},
			tune: func(th *Thresholds) { th.MaxGasPriceGwei = d("100") }},
		{name: "stale sell quote", prices: map[string]string{"A": "1.00", "B": "1.02"}, stale: "B"},
		{name: "single dex", prices: map[string]string{"A": "1.00"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			th := thresholds()
			if tc.tune != nil {
				tc.tune(&th)
			}
			set := quotes(tc.prices)
			if tc.stale != "" {
				k := domain.QuoteKey{DEX: tc.stale, Pair: pair.ID}
				q := set[k]
				q.ObservedAt = now.Add(-time.Minute)
				set[k] = q
			}
			assert.Empty(t, newDetector(th, nil, "A", "B").Detect(set, now))
		})
	}
}

func TestDetect_InputClampedToLiquidity(t *testing.T) {
	set := quotes(map[string]string{"A": "1.00", "B": "1.10"})
	k := domain.QuoteKey{DEX: "A", Pair: pair.ID}
	q := set[k]
	q.Liquidity = d("0.5123456789")
	set[k] = q

	plans := newDetector(thresholds(), nil, "A", "B").Detect(set, now)
	require.Len(t, plans, 1)
	assert.True(t, plans[0].InputAmount.Equal(d("0.512345")), plans[0].InputAmount.String())
}

func TestDetect_PicksBestAndBreaksTiesLexically(t *testing.T) {
	det := newDetector(thresholds(), nil, "A", "B", "C", "D")

	plans := det.Detect(quotes(map[string]string{"A": "1.00", "B": "1.02", "C": "1.00", "D": "1.05"}), now)
	require.Len(t, plans, 1)
	assert.Equal(t, "A", plans[0].BuyDEX, "A and C tie on price; A sorts first")
	assert.Equal(t, "D", plans[0].SellDEX)
}

func TestDetect_NeverEmitsBelowThresholds(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	th := thresholds()
	det := newDetector(th, nil, "A", "B", "C")

	for i := range 500 {
		prices := make(map[string]string, 3)
		for _, dex := range []string{"A", "B", "C"} {
			prices[dex] = fmt.Sprintf("%.4f", 0.95+rng.Float64()*0.1)
		}
		for _, p := range det.Detect(quotes(prices), now) {
			assert.True(t, p.SpreadPct.GreaterThanOrEqual(th.PriceDiffThreshold), "iter %d spread %s", i, p.SpreadPct)
			assert.True(t, p.ExpectedProfit.GreaterThan(th.MinProfitThreshold), "iter %d profit %s", i, p.ExpectedProfit)
			assert.True(t, p.InputAmount.LessThanOrEqual(th.MaxTradeAmount))
			assert.NotEqual(t, p.BuyDEX, p.SellDEX)
		}
	}
}

type captureBus struct{ payloads [][]byte }

func (c *captureBus) Publish(_ context.Context, channel string, payload []byte) error {
	if channel == domain.ChannelPlans {
		c.payloads = append(c.payloads, payload)
	}
	return nil
}

func (c *captureBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func TestPublish(t *testing.T) {
	bus := &captureBus{}
	det := newDetector(thresholds(), bus, "A", "B")
	plans := det.Detect(quotes(map[string]string{"A": "1.00", "B": "1.02"}), now)
	det.Publish(context.Background(), plans)

	require.Len(t, bus.payloads, 1)
	var got domain.TradePlan
	require.NoError(t, json.Unmarshal(bus.payloads[0], &got))
	assert.Equal(t, plans[0].ID, got.ID)
	assert.True(t, got.ExpectedProfit.Equal(plans[0].ExpectedProfit))
}
