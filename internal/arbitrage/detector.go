// Package arbitrage finds cross-DEX price discrepancies in a quote mapping
// and turns the profitable ones into trade plans.
package arbitrage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Thresholds are the detection limits. PriceDiffThreshold is a percentage,
// MinProfitThreshold an absolute amount in quote units.
type Thresholds struct {
	MinProfitThreshold decimal.Decimal
	MaxTradeAmount     decimal.Decimal
	PriceDiffThreshold decimal.Decimal
	MaxGasPriceGwei    decimal.Decimal
	GasUnitsPerSwap    int64
	AmountPrecision    int32
	QuoteStaleness     time.Duration
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	Pairs      []domain.PairSpec
	DEXes      map[string]domain.DEXSpec
	Thresholds Thresholds
	Bus        domain.SignalBus // optional
	Logger     *slog.Logger
}

// Detector evaluates every ordered (buy, sell) DEX combination per pair. It
// keeps no state between cycles.
type Detector struct {
	pairs  []domain.PairSpec
	dexes  map[string]domain.DEXSpec
	th     Thresholds
	bus    domain.SignalBus
	logger *slog.Logger
	newID  func() string
}

// NewDetector creates a detector over the configured pairs and DEXes.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		pairs:  cfg.Pairs,
		dexes:  cfg.DEXes,
		th:     cfg.Thresholds,
		bus:    cfg.Bus,
		logger: cfg.Logger.With(slog.String("component", "arb_detector")),
		newID:  uuid.NewString,
	}
}

// Detect returns at most one plan per pair: the most profitable candidate
// that clears both the spread and profit thresholds. Plans are ordered by
// pair id.
func (d *Detector) Detect(quotes domain.QuoteSet, now time.Time) []domain.TradePlan {
	var plans []domain.TradePlan
	for _, pair := range d.pairs {
		best, ok := d.bestForPair(pair, quotes.ForPair(pair.ID), now)
		if ok {
			plans = append(plans, best)
		}
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Pair < plans[j].Pair })
	return plans
}

func (d *Detector) bestForPair(pair domain.PairSpec, quotes []domain.Quote, now time.Time) (domain.TradePlan, bool) {
	fresh := quotes[:0:0]
	for _, q := range quotes {
		if q.Fresh(now, d.th.QuoteStaleness) && q.Price.IsPositive() {
			fresh = append(fresh, q)
		}
	}

	gas := GasCost(2, d.th.GasUnitsPerSwap, d.th.MaxGasPriceGwei, pair.GasTokenPrice)

	var (
		best  domain.TradePlan
		found bool
	)
	for _, buy := range fresh {
		for _, sell := range fresh {
			if buy.DEX == sell.DEX {
				continue
			}
			plan, ok := d.evaluate(pair, buy, sell, gas, now)
			if !ok {
				continue
			}
			if !found || better(plan, best) {
				best, found = plan, true
			}
		}
	}
	return best, found
}

func (d *Detector) evaluate(pair domain.PairSpec, buy, sell domain.Quote, gas decimal.Decimal, now time.Time) (domain.TradePlan, bool) {
	spread := SpreadPct(buy.Price, sell.Price)
	if spread.LessThan(d.th.PriceDiffThreshold) {
		return domain.TradePlan{}, false
	}

	input := d.th.MaxTradeAmount
	if buy.Liquidity.LessThan(input) {
		input = buy.Liquidity
	}
	input = input.Truncate(d.th.AmountPrecision)
	if !input.IsPositive() {
		return domain.TradePlan{}, false
	}

	buyFee := d.dexes[buy.DEX].FeeBps
	sellFee := d.dexes[sell.DEX].FeeBps
	est := Evaluate(input, buy.Price, sell.Price, buyFee, sellFee, gas)
	if !est.Profit.GreaterThan(d.th.MinProfitThreshold) {
		return domain.TradePlan{}, false
	}

	return domain.TradePlan{
		ID:               d.newID(),
		Kind:             domain.PlanArbitrage,
		Pair:             pair.ID,
		BuyDEX:           buy.DEX,
		SellDEX:          sell.DEX,
		BuyPrice:         buy.Price,
		SellPrice:        sell.Price,
		BuyFeeBps:        buyFee,
		SellFeeBps:       sellFee,
		SpreadPct:        spread,
		InputAmount:      input,
		ExpectedOutput:   est.Output,
		ExpectedProfit:   est.Profit,
		EstimatedGasCost: est.Gas,
		GasTokenPrice:    pair.GasTokenPrice,
		CreatedAt:        now,
	}, true
}

// better orders candidates by profit, then lower gas, then (buy, sell) name.
func better(a, b domain.TradePlan) bool {
	if c := a.ExpectedProfit.Cmp(b.ExpectedProfit); c != 0 {
		return c > 0
	}
	if c := a.EstimatedGasCost.Cmp(b.EstimatedGasCost); c != 0 {
		return c < 0
	}
	if a.BuyDEX != b.BuyDEX {
		return a.BuyDEX < b.BuyDEX
	}
	return a.SellDEX < b.SellDEX
}

// Publish sends each plan on the plans channel. Failures are logged only.
func (d *Detector) Publish(ctx context.Context, plans []domain.TradePlan) {
	if d.bus == nil {
		return
	}
	for _, p := range plans {
		payload, err := json.Marshal(p)
		if err == nil {
			err = d.bus.Publish(ctx, domain.ChannelPlans, payload)
		}
		if err != nil {
			d.logger.WarnContext(ctx, "plan publish failed",
				slog.String("plan_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
