package feed

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/contracts"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Algebra quotes an Algebra (concentrated liquidity) DEX through its quoter.
// The quoter's output is net of the pool fee it reports, so the price is
// grossed back up by that fee; Evaluate charges fee_bps instead. Liquidity is
// the pool's quote-token balance.
type Algebra struct {
	spec   domain.DEXSpec
	caller ethereum.ContractCaller
	now    func() time.Time

	mu    sync.Mutex
	pools map[string]common.Address
}

// Algebra pool fees are in hundredths of a basis point.
const algebraFeeDenominator = 1_000_000

// NewAlgebra creates an adapter for spec using caller for eth_call.
func NewAlgebra(spec domain.DEXSpec, caller ethereum.ContractCaller) *Algebra {
	return &Algebra{
		spec:   spec,
		caller: caller,
		now:    time.Now,
		pools:  make(map[string]common.Address),
	}
}

func (a *Algebra) Name() string { return a.spec.Name }

// GetQuote implements Adapter.
func (a *Algebra) GetQuote(ctx context.Context, pair domain.PairSpec) (domain.Quote, error) {
	pool, err := a.pool(ctx, pair)
	if err != nil {
		return domain.Quote{}, err
	}

	oneBase := contracts.ToUnits(decimalOne, pair.Base.Decimals)
	vals, err := contracts.Call(ctx, a.caller, contracts.AlgebraQuoter, a.spec.Quoter, "quoteExactInputSingle",
		pair.Base.Address, pair.Quote.Address, oneBase, new(big.Int))
	if err != nil {
		return domain.Quote{}, classifyCall(a.spec.Name, pair.ID, "quoteExactInputSingle", err)
	}
	out, err := contracts.BigOut(vals, 0)
	if err != nil {
		return domain.Quote{}, unavailable(a.spec.Name, "quoteExactInputSingle", err)
	}
	if out.Sign() == 0 {
		return domain.Quote{}, invalidPair(a.spec.Name, pair.ID, "zero quote")
	}
	var fee uint16
	ok := len(vals) > 1
	if ok {
		fee, ok = vals[1].(uint16)
	}
	if !ok || uint32(fee) >= algebraFeeDenominator {
		return domain.Quote{}, unavailable(a.spec.Name, "quoteExactInputSingle", fmt.Errorf("unexpected fee output %v", vals))
	}
	keep := decimal.NewFromInt(int64(algebraFeeDenominator - uint32(fee))).Div(decimal.NewFromInt(algebraFeeDenominator))
	price := contracts.FromUnits(out, pair.Quote.Decimals).Div(keep)

	vals, err = contracts.Call(ctx, a.caller, contracts.ERC20, pair.Quote.Address, "balanceOf", pool)
	if err != nil {
		return domain.Quote{}, classifyCall(a.spec.Name, pair.ID, "balanceOf", err)
	}
	bal, err := contracts.BigOut(vals, 0)
	if err != nil {
		return domain.Quote{}, unavailable(a.spec.Name, "balanceOf", err)
	}

	return domain.Quote{
		DEX:        a.spec.Name,
		Pair:       pair.ID,
		Price:      price,
		Liquidity:  contracts.FromUnits(bal, pair.Quote.Decimals),
		ObservedAt: a.now(),
	}, nil
}

func (a *Algebra) pool(ctx context.Context, pair domain.PairSpec) (common.Address, error) {
	a.mu.Lock()
	addr, ok := a.pools[pair.ID]
	a.mu.Unlock()
	if ok {
		return addr, nil
	}

	vals, err := contracts.Call(ctx, a.caller, contracts.AlgebraFactory, a.spec.Factory, "poolByPair", pair.Base.Address, pair.Quote.Address)
	if err != nil {
		return common.Address{}, classifyCall(a.spec.Name, pair.ID, "poolByPair", err)
	}
	addr, err = contracts.AddressOut(vals, 0)
	if err != nil {
		return common.Address{}, unavailable(a.spec.Name, "poolByPair", err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, invalidPair(a.spec.Name, pair.ID, "factory has no pool")
	}

	a.mu.Lock()
	a.pools[pair.ID] = addr
	a.mu.Unlock()
	return addr, nil
}
