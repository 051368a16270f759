package feed

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dexarb/internal/contracts"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// UniswapV2 quotes a Uniswap V2 style pair. The price is the reserve ratio
// before the pool fee, which Evaluate charges from fee_bps; liquidity is the
// pair's quote-token reserve.
type UniswapV2 struct {
	spec   domain.DEXSpec
	caller ethereum.ContractCaller
	now    func() time.Time

	mu     sync.Mutex
	pools  map[string]common.Address
	token0 map[common.Address]common.Address
}

// NewUniswapV2 creates an adapter for spec using caller for eth_call.
func NewUniswapV2(spec domain.DEXSpec, caller ethereum.ContractCaller) *UniswapV2 {
	return &UniswapV2{
		spec:   spec,
		caller: caller,
		now:    time.Now,
		pools:  make(map[string]common.Address),
		token0: make(map[common.Address]common.Address),
	}
}

func (u *UniswapV2) Name() string { return u.spec.Name }

// GetQuote implements Adapter.
func (u *UniswapV2) GetQuote(ctx context.Context, pair domain.PairSpec) (domain.Quote, error) {
	pool, err := u.pool(ctx, pair)
	if err != nil {
		return domain.Quote{}, err
	}

	baseRes, quoteRes, err := u.reserves(ctx, pool, pair)
	if err != nil {
		return domain.Quote{}, err
	}
	if baseRes.Sign() == 0 || quoteRes.Sign() == 0 {
		return domain.Quote{}, invalidPair(u.spec.Name, pair.ID, "empty reserves")
	}
	liquidity := contracts.FromUnits(quoteRes, pair.Quote.Decimals)
	price := liquidity.Div(contracts.FromUnits(baseRes, pair.Base.Decimals))

	return domain.Quote{
		DEX:        u.spec.Name,
		Pair:       pair.ID,
		Price:      price,
		Liquidity:  liquidity,
		ObservedAt: u.now(),
	}, nil
}

func (u *UniswapV2) pool(ctx context.Context, pair domain.PairSpec) (common.Address, error) {
	u.mu.Lock()
	addr, ok := u.pools[pair.ID]
	u.mu.Unlock()
	if ok {
		return addr, nil
	}

	vals, err := contracts.Call(ctx, u.caller, contracts.FactoryV2, u.spec.Factory, "getPair", pair.Base.Address, pair.Quote.Address)
	if err != nil {
		return common.Address{}, classifyCall(u.spec.Name, pair.ID, "getPair", err)
	}
	addr, err = contracts.AddressOut(vals, 0)
	if err != nil {
		return common.Address{}, unavailable(u.spec.Name, "getPair", err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, invalidPair(u.spec.Name, pair.ID, "factory has no pair")
	}

	u.mu.Lock()
	u.pools[pair.ID] = addr
	u.mu.Unlock()
	return addr, nil
}

// reserves returns the pair's base and quote reserves in raw units.
func (u *UniswapV2) reserves(ctx context.Context, pool common.Address, pair domain.PairSpec) (base, quote *big.Int, err error) {
	u.mu.Lock()
	t0, ok := u.token0[pool]
	u.mu.Unlock()
	if !ok {
		vals, err := contracts.Call(ctx, u.caller, contracts.PairV2, pool, "token0")
		if err != nil {
			return nil, nil, classifyCall(u.spec.Name, pair.ID, "token0", err)
		}
		if t0, err = contracts.AddressOut(vals, 0); err != nil {
			return nil, nil, unavailable(u.spec.Name, "token0", err)
		}
		u.mu.Lock()
		u.token0[pool] = t0
		u.mu.Unlock()
	}

	vals, err := contracts.Call(ctx, u.caller, contracts.PairV2, pool, "getReserves")
	if err != nil {
		return nil, nil, classifyCall(u.spec.Name, pair.ID, "getReserves", err)
	}
	r0, err := contracts.BigOut(vals, 0)
	if err != nil {
		return nil, nil, unavailable(u.spec.Name, "getReserves", err)
	}
	r1, err := contracts.BigOut(vals, 1)
	if err != nil {
		return nil, nil, unavailable(u.spec.Name, "getReserves", err)
	}
	if t0 == pair.Quote.Address {
		return r1, r0, nil
	}
	return r0, r1, nil
}
