package feed

import (
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// defaultStaticLiquidity is the depth reported by static adapters.
var defaultStaticLiquidity = decimal.NewFromInt(1_000_000)

// NewAdapter builds the adapter for spec. staticPrices is only consulted for
// static dexes.
func NewAdapter(spec domain.DEXSpec, caller ethereum.ContractCaller, staticPrices map[string]decimal.Decimal) (Adapter, error) {
	switch spec.Type {
	case domain.DEXTypeUniswapV2:
		if caller == nil {
			return nil, fmt.Errorf("feed: %s: uniswap_v2 adapter needs an rpc client", spec.Name)
		}
		return NewUniswapV2(spec, caller), nil
	case domain.DEXTypeAlgebra:
		if caller == nil {
			return nil, fmt.Errorf("feed: %s: algebra adapter needs an rpc client", spec.Name)
		}
		return NewAlgebra(spec, caller), nil
	case domain.DEXTypeStatic:
		return NewStatic(spec.Name, staticPrices, defaultStaticLiquidity), nil
	default:
		return nil, fmt.Errorf("feed: %s: unsupported dex type %q", spec.Name, spec.Type)
	}
}
