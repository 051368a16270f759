package feed

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

var decimalOne = decimal.NewFromInt(1)

// Static serves fixed prices. It backs type = "static" dexes for dry runs.
type Static struct {
	name      string
	liquidity decimal.Decimal
	now       func() time.Time

	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic returns a static adapter quoting prices (pair id -> price) with a
// fixed liquidity depth.
func NewStatic(name string, prices map[string]decimal.Decimal, liquidity decimal.Decimal) *Static {
	cp := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &Static{name: name, liquidity: liquidity, now: time.Now, prices: cp}
}

func (s *Static) Name() string { return s.name }

// Set replaces the price for pair.
func (s *Static) Set(pair string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[pair] = price
}

// GetQuote implements Adapter.
func (s *Static) GetQuote(ctx context.Context, pair domain.PairSpec) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, unavailable(s.name, "static quote", err)
	}
	s.mu.RLock()
	price, ok := s.prices[pair.ID]
	s.mu.RUnlock()
	if !ok {
		return domain.Quote{}, invalidPair(s.name, pair.ID, "no static price")
	}
	return domain.Quote{
		DEX:        s.name,
		Pair:       pair.ID,
		Price:      price,
		Liquidity:  s.liquidity,
		ObservedAt: s.now(),
	}, nil
}
