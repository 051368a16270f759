package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/ledger"
)

// gatedChain blocks the first submission until released.
type gatedChain struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedChain() *gatedChain {
	return &gatedChain{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedChain) SubmitSwap(ctx context.Context, req domain.SwapRequest) (string, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "", domain.ErrSubmissionRejected
}

func (g *gatedChain) Receipt(context.Context, string) (domain.Receipt, error) {
	return domain.Receipt{}, domain.ErrReceiptPending
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, event, title, message string) error {
	return m.Called(ctx, event, title, message).Error(0)
}

func (m *mockNotifier) NotifyAll(ctx context.Context, title, message string) error {
	return m.Called(ctx, title, message).Error(0)
}

type memBus struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (b *memBus) Publish(_ context.Context, ch string, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs == nil {
		b.msgs = make(map[string][][]byte)
	}
	b.msgs[ch] = append(b.msgs[ch], p)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func openLedger(t *testing.T) (*ledger.Ledger, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	l, err := ledger.Open(context.Background(), store, discard())
	require.NoError(t, err)
	return l, store
}

func TestDispatcher_DuplicateTupleYieldsSingleRecord(t *testing.T) {
	chain := newGatedChain()
	engine := NewEngine(chain, NewLocalLocks(), []domain.PairSpec{pair}, Config{ConfirmAttempts: 1, LockTTL: time.Minute}, discard())
	l, store := openLedger(t)
	disp := NewDispatcher(DispatcherConfig{Executor: engine, Ledger: l, MaxPending: 4, Logger: discard()})

	first, second := order(), order()
	second.ID = "ord-2"

	require.True(t, disp.Dispatch(context.Background(), first))
	<-chain.entered

	_, recorded := disp.Run(context.Background(), second)
	assert.False(t, recorded, "same (buy, sell, pair) tuple is already in flight")

	close(chain.release)
	disp.Wait()

	entries, err := store.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ord-1", entries[0].OrderID)
}

func TestDispatcher_MaxPending(t *testing.T) {
	chain := newGatedChain()
	engine := NewEngine(chain, NewLocalLocks(), []domain.PairSpec{pair}, Config{ConfirmAttempts: 1}, discard())
	l, _ := openLedger(t)
	disp := NewDispatcher(DispatcherConfig{Executor: engine, Ledger: l, MaxPending: 1, Logger: discard()})

	require.True(t, disp.Dispatch(context.Background(), order()))
	<-chain.entered
	assert.Equal(t, 1, disp.InFlight())

	other := order()
	other.ID = "ord-2"
	other.Plan.BuyDEX = "C"
	assert.False(t, disp.Dispatch(context.Background(), other))

	close(chain.release)
	disp.Wait()
	assert.Equal(t, 0, disp.InFlight())
}

type fixedExecutor struct {
	rec domain.ExecutionRecord
	err error
}

func (f fixedExecutor) Execute(context.Context, domain.SizedOrder) (domain.ExecutionRecord, error) {
	return f.rec, f.err
}

func partialRecord() domain.ExecutionRecord {
	rec := domain.NewExecutionRecord(order(), time.Now())
	rec.Legs = []domain.LegAttempt{
		{Side: domain.LegBuy, Status: domain.ExecConfirmed, AmountIn: d("1"), AmountOut: d("0.997")},
		{Side: domain.LegSell, Status: domain.ExecFailed, AmountIn: d("0.997")},
	}
	rec.GasCost = d("0.0002")
	_ = rec.Fail(domain.ExecFailed, domain.ErrPartialLegFailure, time.Now())
	return rec
}

func TestDispatcher_PartialLegFailureRecordsAndAlerts(t *testing.T) {
	l, _ := openLedger(t)
	notifier := &mockNotifier{}
	notifier.On("NotifyAll", mock.Anything, "Partial leg failure", mock.AnythingOfType("string")).Return(nil).Once()
	bus := &memBus{}

	var seen []domain.LedgerEntry
	disp := NewDispatcher(DispatcherConfig{
		Executor:   fixedExecutor{rec: partialRecord(), err: domain.ErrPartialLegFailure},
		Ledger:     l,
		Bus:        bus,
		Notifier:   notifier,
		OnEntry:    func(e domain.LedgerEntry) { seen = append(seen, e) },
		MaxPending: 1,
		Logger:     discard(),
	})

	entry, ok := disp.Run(context.Background(), order())
	require.True(t, ok)
	assert.True(t, entry.Loss.Equal(d("1.0002")), "buy input and gas are lost: %s", entry.Loss)
	assert.True(t, entry.Volume.Equal(d("1")))
	require.Len(t, seen, 1)

	require.Len(t, bus.msgs[domain.ChannelExecutions], 1)
	var published domain.ExecutionRecord
	require.NoError(t, json.Unmarshal(bus.msgs[domain.ChannelExecutions][0], &published))
	assert.Equal(t, domain.ExecFailed, published.Status)

	notifier.AssertExpectations(t)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

type failingRecorder struct{}

func (failingRecorder) Record(_ context.Context, rec domain.ExecutionRecord) (domain.LedgerEntry, error) {
	return ledger.Project(rec), errors.New("disk full")
}

func TestDispatcher_LedgerFailureStillReachesOnEntry(t *testing.T) {
	boost := partialRecord()
	boost.Kind = domain.PlanBoost

	var seen []domain.LedgerEntry
	disp := NewDispatcher(DispatcherConfig{
		Executor: fixedExecutor{rec: boost, err: domain.ErrPartialLegFailure},
		Ledger:   failingRecorder{},
		OnEntry:  func(e domain.LedgerEntry) { seen = append(seen, e) },
		Logger:   discard(),
	})

	entry, ok := disp.Run(context.Background(), order())
	assert.False(t, ok, "the outcome was not persisted")
	require.Len(t, seen, 1)
	assert.Equal(t, domain.PlanBoost, seen[0].Kind)
	assert.True(t, seen[0].Loss.Equal(d("1.0002")), seen[0].Loss.String())
	assert.Equal(t, seen[0], entry)
}

func TestDispatcher_ConfirmedNotifiesByEvent(t *testing.T) {
	l, _ := openLedger(t)
	rec := domain.NewExecutionRecord(order(), time.Now())
	rec.RealizedProfit = d("0.01")
	require.NoError(t, rec.Transition(domain.ExecConfirmed, time.Now()))

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, EventTradeConfirmed, "Trade confirmed", mock.AnythingOfType("string")).Return(nil).Once()

	disp := NewDispatcher(DispatcherConfig{Executor: fixedExecutor{rec: rec}, Ledger: l, Notifier: notifier, Logger: discard()})
	entry, ok := disp.Run(context.Background(), order())
	require.True(t, ok)
	assert.True(t, entry.Profit.Equal(d("0.01")))
	assert.True(t, l.Totals().CumulativeProfit.Equal(d("0.01")))
	notifier.AssertExpectations(t)
}

func TestDispatcher_RecordsEvenAfterCancellation(t *testing.T) {
	l, store := openLedger(t)
	rec := domain.NewExecutionRecord(order(), time.Now())
	require.NoError(t, rec.Fail(domain.ExecFailed, context.Canceled, time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	disp := NewDispatcher(DispatcherConfig{Executor: fixedExecutor{rec: rec, err: context.Canceled}, Ledger: l, Logger: discard()})
	_, ok := disp.Run(ctx, order())
	require.True(t, ok)

	entries, err := store.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
