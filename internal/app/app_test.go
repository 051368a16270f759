package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/ledger"
	"github.com/alanyoungcy/dexarb/internal/notify"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// priceChain fills every swap at the dex's fixed price with no fee or gas.
type priceChain struct {
	prices map[string]decimal.Decimal

	mu   sync.Mutex
	outs map[string]decimal.Decimal
}

func newPriceChain(prices map[string]string) *priceChain {
	c := &priceChain{prices: map[string]decimal.Decimal{}, outs: map[string]decimal.Decimal{}}
	for dex, p := range prices {
		c.prices[dex] = d(p)
	}
	return c
}

func (c *priceChain) SubmitSwap(_ context.Context, req domain.SwapRequest) (string, error) {
	price := c.prices[req.DEX]
	out := req.AmountIn.Mul(price)
	if req.TokenIn.Symbol == "USDC" {
		out = req.AmountIn.Div(price)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := fmt.Sprintf("0x%04x", len(c.outs)+1)
	c.outs[hash] = out
	return hash, nil
}

func (c *priceChain) Receipt(_ context.Context, txHash string) (domain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.outs[txHash]
	if !ok {
		return domain.Receipt{}, domain.ErrReceiptPending
	}
	return domain.Receipt{TxHash: txHash, Status: domain.ReceiptSuccess, AmountOut: out, GasUsed: 21_000}, nil
}

func (c *priceChain) swaps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outs)
}

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.DEXes = []config.DEXConfig{
		{Name: "alpha", Type: "static", StaticPrices: map[string]decimal.Decimal{"WMON/USDC": d("1.00")}},
		{Name: "beta", Type: "static", StaticPrices: map[string]decimal.Decimal{"WMON/USDC": d("1.05")}},
	}
	cfg.Tokens = []config.TokenConfig{
		{Symbol: "WMON", Decimals: 18},
		{Symbol: "USDC", Decimals: 6},
	}
	cfg.Pairs = []config.PairConfig{{Base: "WMON", Quote: "USDC", GasTokenPrice: decimal.Zero}}
	cfg.Arbitrage.MinProfitThreshold = d("0.01")
	cfg.Arbitrage.PollInterval.Duration = 20 * time.Millisecond
	cfg.Arbitrage.TradeInterval.Duration = 0
	cfg.Execution.BackoffBase.Duration = time.Millisecond
	cfg.Execution.BackoffMax.Duration = 5 * time.Millisecond
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "ledger.jsonl")
	cfg.VolumeBoost.Enabled = mode == "volume"
	cfg.VolumeBoost.TargetDEX = "alpha"
	cfg.VolumeBoost.MinTradeAmount = d("5")
	cfg.VolumeBoost.MaxTradeAmount = d("5")
	cfg.VolumeBoost.VolumeTarget = d("10")
	cfg.VolumeBoost.IncludeGas = false
	return &cfg
}

func readLedger(t *testing.T, path string) []domain.LedgerEntry {
	t.Helper()
	entries, err := ledger.NewFileStore(path).ReadAll(context.Background())
	require.NoError(t, err)
	return entries
}

// newTestDriver wires a driver without starting its loop.
func newTestDriver(t *testing.T, cfg *config.Config, c *priceChain) *driver {
	t.Helper()
	a := New(cfg, discard()).WithChain(c)
	deps, cleanup, err := a.wire(context.Background())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	drv := newDriver(cfg, a.mode, deps, discard())
	drv.now = func() time.Time { return time.Now().UTC() }
	return drv
}

func TestRun_ArbitrageRecordsConfirmedTrades(t *testing.T) {
	cfg := testConfig(t, "arbitrage")
	c := newPriceChain(map[string]string{"alpha": "1.00", "beta": "1.05"})
	a := New(cfg, discard()).WithChain(c)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		entries, err := ledger.NewFileStore(cfg.Ledger.Path).ReadAll(context.Background())
		return err == nil && len(entries) > 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	entries := readLedger(t, cfg.Ledger.Path)
	require.NotEmpty(t, entries)
	e := entries[0]
	assert.Equal(t, domain.ExecConfirmed, e.Status)
	assert.Equal(t, "alpha", e.BuyDEX)
	assert.Equal(t, "beta", e.SellDEX)
	assert.True(t, d("1").Equal(e.Volume), "volume %s", e.Volume)
	assert.True(t, d("0.05").Equal(e.Profit), "profit %s", e.Profit)
	assert.Len(t, e.TxHashes, 2)
}

func TestRun_UnsupportedMode(t *testing.T) {
	cfg := testConfig(t, "backtest")
	err := New(cfg, discard()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}

func TestWire_UnknownPairToken(t *testing.T) {
	cfg := testConfig(t, "monitor")
	cfg.Pairs = []config.PairConfig{{Base: "WETH", Quote: "USDC"}}
	_, _, err := New(cfg, discard()).wire(context.Background())
	require.Error(t, err)
}

func TestDriver_TradeCooldown(t *testing.T) {
	cfg := testConfig(t, "arbitrage")
	cfg.Arbitrage.TradeInterval.Duration = time.Hour
	c := newPriceChain(map[string]string{"alpha": "1.00", "beta": "1.05"})
	drv := newTestDriver(t, cfg, c)
	ctx := context.Background()

	drv.tick(ctx)
	drv.wait()
	drv.tick(ctx)
	drv.wait()

	assert.Len(t, readLedger(t, cfg.Ledger.Path), 1)
	assert.Equal(t, 2, c.swaps())
}

func TestDriver_MonitorModeNeverTrades(t *testing.T) {
	cfg := testConfig(t, "monitor")
	c := newPriceChain(nil)
	drv := newTestDriver(t, cfg, c)
	require.Nil(t, drv.deps.Engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	plans, err := drv.deps.Bus.Subscribe(ctx, domain.ChannelPlans)
	require.NoError(t, err)

	drv.tick(ctx)
	drv.wait()

	select {
	case payload := <-plans:
		assert.Contains(t, string(payload), `"buy_dex":"alpha"`)
	case <-time.After(time.Second):
		t.Fatal("no plan published")
	}
	assert.Zero(t, c.swaps())
	assert.Empty(t, readLedger(t, cfg.Ledger.Path))
	assert.Len(t, drv.deps.Monitor.Snapshot(), 2)
}

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) count(title string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.titles {
		if t == title {
			n++
		}
	}
	return n
}

func TestDriver_VolumeBoostStopsAtTarget(t *testing.T) {
	cfg := testConfig(t, "volume")
	c := newPriceChain(map[string]string{"alpha": "1.00"})

	a := New(cfg, discard()).WithChain(c)
	deps, cleanup, err := a.wire(context.Background())
	require.NoError(t, err)
	defer cleanup()
	sender := &recordingSender{}
	deps.Notifier = notify.NewNotifier([]notify.Sender{sender}, nil, discard())
	drv := newDriver(cfg, a.mode, deps, discard())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		drv.tick(ctx)
		drv.wait()
	}

	entries := readLedger(t, cfg.Ledger.Path)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, domain.PlanBoost, e.Kind)
		assert.Equal(t, domain.ExecConfirmed, e.Status)
		assert.Equal(t, "alpha", e.BuyDEX)
		assert.Equal(t, "alpha", e.SellDEX)
	}

	st := deps.Sizer.State()
	assert.True(t, st.TargetReached())
	assert.True(t, d("10").Equal(st.CumulativeBoostedVolume))
	assert.Equal(t, 1, sender.count("Volume boost stopped"))
	assert.Equal(t, 4, c.swaps())
}

func TestDriver_VolumeBoostResumesFromLedger(t *testing.T) {
	cfg := testConfig(t, "volume")
	c := newPriceChain(map[string]string{"alpha": "1.00"})

	first := newTestDriver(t, cfg, c)
	first.tick(context.Background())
	first.wait()
	require.Len(t, readLedger(t, cfg.Ledger.Path), 1)

	second := newTestDriver(t, cfg, c)
	assert.True(t, d("5").Equal(second.deps.Sizer.State().CumulativeBoostedVolume))

	second.tick(context.Background())
	second.wait()
	second.tick(context.Background())
	second.wait()
	assert.Len(t, readLedger(t, cfg.Ledger.Path), 2)
}

// stuckSellChain mines buy legs at fixed prices and never mines a sell leg.
type stuckSellChain struct {
	*priceChain

	mu    sync.Mutex
	stuck map[string]bool
}

func (c *stuckSellChain) SubmitSwap(ctx context.Context, req domain.SwapRequest) (string, error) {
	hash, err := c.priceChain.SubmitSwap(ctx, req)
	if err == nil && req.TokenIn.Symbol == "WMON" {
		c.mu.Lock()
		c.stuck[hash] = true
		c.mu.Unlock()
	}
	return hash, err
}

func (c *stuckSellChain) Receipt(ctx context.Context, txHash string) (domain.Receipt, error) {
	c.mu.Lock()
	stuck := c.stuck[txHash]
	c.mu.Unlock()
	if stuck {
		return domain.Receipt{}, domain.ErrReceiptPending
	}
	return c.priceChain.Receipt(ctx, txHash)
}

func TestDriver_VolumeBoostSellTimeoutCountsAsLoss(t *testing.T) {
	cfg := testConfig(t, "volume")
	cfg.Execution.ConfirmAttempts = 3
	c := &stuckSellChain{priceChain: newPriceChain(map[string]string{"alpha": "1.00"}), stuck: map[string]bool{}}

	a := New(cfg, discard()).WithChain(c)
	deps, cleanup, err := a.wire(context.Background())
	require.NoError(t, err)
	defer cleanup()
	sender := &recordingSender{}
	deps.Notifier = notify.NewNotifier([]notify.Sender{sender}, nil, discard())
	drv := newDriver(cfg, a.mode, deps, discard())

	drv.tick(context.Background())
	drv.wait()

	entries := readLedger(t, cfg.Ledger.Path)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, domain.PlanBoost, e.Kind)
	assert.Equal(t, domain.ExecFailed, e.Status)
	assert.Contains(t, e.FailureReason, domain.ErrPartialLegFailure.Error())
	assert.True(t, d("5").Equal(e.Loss), "the buy input is lost: %s", e.Loss)

	st := deps.Sizer.State()
	assert.True(t, d("5").Equal(st.CumulativeLoss), "boost state follows the ledger: %s", st.CumulativeLoss)
	assert.True(t, d("5").Equal(deps.Ledger.Totals().CumulativeLoss))

	// 5 lost against a 0.01 tolerance leaves no room for another order.
	assert.Equal(t, 1, sender.count("Partial leg failure"))
	assert.Equal(t, 1, sender.count("Volume boost stopped"))
	drv.tick(context.Background())
	drv.wait()
	assert.Equal(t, 2, c.swaps(), "no further boost orders after the stop")
}
