package feed

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/contracts"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// fakeCaller answers eth_call by 4-byte selector.
type fakeCaller struct {
	mu        sync.Mutex
	responses map[[4]byte][]byte
	errs      map[[4]byte]error
	calls     map[[4]byte]int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		responses: make(map[[4]byte][]byte),
		errs:      make(map[[4]byte]error),
		calls:     make(map[[4]byte]int),
	}
}

func (f *fakeCaller) respond(t *testing.T, a abi.ABI, method string, outs ...any) {
	t.Helper()
	m := a.Methods[method]
	data, err := m.Outputs.Pack(outs...)
	require.NoError(t, err)
	f.responses[[4]byte(m.ID)] = data
}

func (f *fakeCaller) fail(a abi.ABI, method string, err error) {
	f.errs[[4]byte(a.Methods[method].ID)] = err
}

func (f *fakeCaller) count(a abi.ABI, method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[[4]byte(a.Methods[method].ID)]
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	var sel [4]byte
	copy(sel[:], msg.Data[:4])
	f.mu.Lock()
	f.calls[sel]++
	f.mu.Unlock()
	if err, ok := f.errs[sel]; ok {
		return nil, err
	}
	out, ok := f.responses[sel]
	if !ok {
		return nil, errors.New("unexpected call")
	}
	return out, nil
}

var (
	wmon = domain.Token{Symbol: "WMON", Address: common.HexToAddress("0x760afe86e5de5fa0ee542fc7b7b713e1c5425701"), Decimals: 18}
	usdc = domain.Token{Symbol: "USDC", Address: common.HexToAddress("0xf817257fed379853cde0fa4f97ab987181b1e5ea"), Decimals: 6}
	pair = domain.PairSpec{ID: "WMON/USDC", Base: wmon, Quote: usdc, GasTokenPrice: decimal.NewFromInt(1)}
	pool = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func e18() *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) }

func TestUniswapV2_GetQuote(t *testing.T) {
	caller := newFakeCaller()
	caller.respond(t, contracts.FactoryV2, "getPair", pool)
	caller.respond(t, contracts.PairV2, "token0", usdc.Address)
	// 255 USDC against 250 WMON.
	caller.respond(t, contracts.PairV2, "getReserves", big.NewInt(255_000_000), new(big.Int).Mul(big.NewInt(250), e18()), uint32(0))

	a := NewUniswapV2(domain.DEXSpec{Name: "uniswap", Type: domain.DEXTypeUniswapV2}, caller)
	q, err := a.GetQuote(context.Background(), pair)
	require.NoError(t, err)

	assert.Equal(t, "uniswap", q.DEX)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("1.02")), q.Price.String())
	assert.True(t, q.Liquidity.Equal(decimal.NewFromInt(255)), q.Liquidity.String())
	assert.False(t, q.ObservedAt.IsZero())

	// Pool address and token ordering are resolved once.
	_, err = a.GetQuote(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, 1, caller.count(contracts.FactoryV2, "getPair"))
	assert.Equal(t, 1, caller.count(contracts.PairV2, "token0"))
	assert.Equal(t, 2, caller.count(contracts.PairV2, "getReserves"))
}

func TestUniswapV2_PriceExcludesPoolFee(t *testing.T) {
	tests := []struct {
		name   string
		token0 common.Address
		r0, r1 *big.Int
	}{
		{"quote is token0", usdc.Address, big.NewInt(1_000_000_000), new(big.Int).Mul(big.NewInt(1000), e18())},
		{"base is token0", wmon.Address, new(big.Int).Mul(big.NewInt(1000), e18()), big.NewInt(1_000_000_000)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			caller := newFakeCaller()
			caller.respond(t, contracts.FactoryV2, "getPair", pool)
			caller.respond(t, contracts.PairV2, "token0", tc.token0)
			caller.respond(t, contracts.PairV2, "getReserves", tc.r0, tc.r1, uint32(0))

			spec := domain.DEXSpec{Name: "uniswap", Type: domain.DEXTypeUniswapV2, FeeBps: 30}
			q, err := NewUniswapV2(spec, caller).GetQuote(context.Background(), pair)
			require.NoError(t, err)

			// The router would pay about 0.997 for one base; the quote stays
			// at the 1:1 reserve ratio and fee_bps is charged once downstream.
			assert.True(t, q.Price.Equal(decimal.NewFromInt(1)), q.Price.String())
			net := q.Price.Mul(decimal.NewFromInt(1).Sub(spec.FeeRate()))
			assert.True(t, net.Equal(decimal.RequireFromString("0.997")), net.String())
		})
	}
}

func TestUniswapV2_Errors(t *testing.T) {
	t.Run("no pair", func(t *testing.T) {
		caller := newFakeCaller()
		caller.respond(t, contracts.FactoryV2, "getPair", common.Address{})
		_, err := NewUniswapV2(domain.DEXSpec{Name: "u"}, caller).GetQuote(context.Background(), pair)
		assert.ErrorIs(t, err, domain.ErrInvalidPair)
	})

	t.Run("rpc down", func(t *testing.T) {
		caller := newFakeCaller()
		caller.fail(contracts.FactoryV2, "getPair", errors.New("dial tcp: connection refused"))
		_, err := NewUniswapV2(domain.DEXSpec{Name: "u"}, caller).GetQuote(context.Background(), pair)
		assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
		assert.NotErrorIs(t, err, domain.ErrInvalidPair)
	})

	t.Run("reserves revert", func(t *testing.T) {
		caller := newFakeCaller()
		caller.respond(t, contracts.FactoryV2, "getPair", pool)
		caller.respond(t, contracts.PairV2, "token0", usdc.Address)
		caller.fail(contracts.PairV2, "getReserves", errors.New("execution reverted: UniswapV2: INSUFFICIENT_LIQUIDITY"))
		_, err := NewUniswapV2(domain.DEXSpec{Name: "u"}, caller).GetQuote(context.Background(), pair)
		assert.ErrorIs(t, err, domain.ErrInvalidPair)
	})

	t.Run("empty reserves", func(t *testing.T) {
		caller := newFakeCaller()
		caller.respond(t, contracts.FactoryV2, "getPair", pool)
		caller.respond(t, contracts.PairV2, "token0", usdc.Address)
		caller.respond(t, contracts.PairV2, "getReserves", big.NewInt(0), big.NewInt(0), uint32(0))
		_, err := NewUniswapV2(domain.DEXSpec{Name: "u"}, caller).GetQuote(context.Background(), pair)
		assert.ErrorIs(t, err, domain.ErrInvalidPair)
	})

	t.Run("timeout", func(t *testing.T) {
		caller := newFakeCaller()
		caller.fail(contracts.FactoryV2, "getPair", context.DeadlineExceeded)
		_, err := NewUniswapV2(domain.DEXSpec{Name: "u"}, caller).GetQuote(context.Background(), pair)
		assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestAlgebra_GetQuote(t *testing.T) {
	caller := newFakeCaller()
	caller.respond(t, contracts.AlgebraFactory, "poolByPair", pool)
	// 0.9995 USDC out after a 0.05% pool fee.
	caller.respond(t, contracts.AlgebraQuoter, "quoteExactInputSingle", big.NewInt(999_500), uint16(500))
	caller.respond(t, contracts.ERC20, "balanceOf", big.NewInt(75_500_000))

	a := NewAlgebra(domain.DEXSpec{Name: "kuru", Type: domain.DEXTypeAlgebra}, caller)
	q, err := a.GetQuote(context.Background(), pair)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(1)), "price before the pool fee: %s", q.Price)
	net := q.Price.Mul(decimal.RequireFromString("0.9995"))
	assert.True(t, net.Equal(decimal.RequireFromString("0.9995")), "grossed price times the fee factor gives the quoter output")
	assert.True(t, q.Liquidity.Equal(decimal.RequireFromString("75.5")), q.Liquidity.String())
}

func TestStaticAndRegistry(t *testing.T) {
	s := NewStatic("paper", map[string]decimal.Decimal{"WMON/USDC": decimal.NewFromInt(2)}, decimal.NewFromInt(10))
	reg := NewRegistry()
	reg.Register(s)
	reg.Register(NewStatic("alpha", nil, decimal.Zero))

	assert.Equal(t, []string{"alpha", "paper"}, reg.List())
	got, err := reg.Get("paper")
	require.NoError(t, err)

	q, err := got.GetQuote(context.Background(), pair)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(2)))

	s.Set("WMON/USDC", decimal.NewFromInt(3))
	q, err = got.GetQuote(context.Background(), pair)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(3)))

	_, err = got.GetQuote(context.Background(), domain.PairSpec{ID: "X/Y"})
	assert.ErrorIs(t, err, domain.ErrInvalidPair)

	_, err = reg.Get("missing")
	assert.Error(t, err)

	assert.True(t, reg.Remove("alpha"))
	assert.False(t, reg.Remove("alpha"))
	assert.Equal(t, []string{"paper"}, reg.List())
}

func TestNewAdapter(t *testing.T) {
	_, err := NewAdapter(domain.DEXSpec{Name: "u", Type: domain.DEXTypeUniswapV2}, nil, nil)
	assert.Error(t, err)

	a, err := NewAdapter(domain.DEXSpec{Name: "s", Type: domain.DEXTypeStatic}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "s", a.Name())

	_, err = NewAdapter(domain.DEXSpec{Name: "c", Type: "curve"}, nil, nil)
	assert.Error(t, err)
}
