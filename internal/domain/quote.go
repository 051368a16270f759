package domain

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token is an ERC20 token known to the agent.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// PairSpec describes a monitored token pair. Prices are expressed as quote
// units per one base unit.
type PairSpec struct {
	ID    string // e.g. "WMON/USDC"
	Base  Token
	Quote Token
	// GasTokenPrice converts native gas cost into quote units.
	GasTokenPrice decimal.Decimal
}

// QuoteKey identifies the latest quote slot for one DEX and pair.
type QuoteKey struct {
	DEX  string
	Pair string
}

// Quote is a point-in-time price observation. A newer Quote replaces the
// previous one for the same key; quotes are never edited in place.
type Quote struct {
	DEX        string          `json:"dex"`
	Pair       string          `json:"pair"`
	Price      decimal.Decimal `json:"price"`
	Liquidity  decimal.Decimal `json:"liquidity"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Key returns the quote's slot key.
func (q Quote) Key() QuoteKey {
	return QuoteKey{DEX: q.DEX, Pair: q.Pair}
}

// Age reports how long ago the quote was observed.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// Fresh reports whether the quote is younger than maxAge.
func (q Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	return q.Age(now) < maxAge
}

// QuoteSet is the full latest-known quote mapping published after a poll.
type QuoteSet map[QuoteKey]Quote

// ForPair returns the quotes for pair ordered by DEX name.
func (s QuoteSet) ForPair(pair string) []Quote {
	out := make([]Quote, 0, 4)
	for k, q := range s {
		if k.Pair == pair {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DEX < out[j].DEX })
	return out
}

// Clone returns a shallow copy safe to hand to another goroutine.
func (s QuoteSet) Clone() QuoteSet {
	out := make(QuoteSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
