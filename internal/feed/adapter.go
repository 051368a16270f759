// Package feed implements the per-DEX price feed adapters and the registry
// that maps configured dex ids to adapter instances.
package feed

import (
	"context"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Adapter queries one DEX for a point-in-time quote. Implementations return
// errors wrapping domain.ErrAdapterUnavailable for network or timeout
// failures and domain.ErrInvalidPair when the pair is not listed.
type Adapter interface {
	Name() string
	GetQuote(ctx context.Context, pair domain.PairSpec) (domain.Quote, error)
}
