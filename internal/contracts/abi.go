// Package contracts holds the minimal ABIs the agent speaks and helpers to
// call them through any go-ethereum ContractCaller.
package contracts

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const routerV2JSON = `[
{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
           {"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
 "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

const factoryV2JSON = `[
{"name":"getPair","type":"function","stateMutability":"view",
 "inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],
 "outputs":[{"name":"pair","type":"address"}]}
]`

const pairV2JSON = `[
{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],
 "outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
{"name":"token0","type":"function","stateMutability":"view","inputs":[],
 "outputs":[{"name":"","type":"address"}]}
]`

const algebraFactoryJSON = `[
{"name":"poolByPair","type":"function","stateMutability":"view",
 "inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],
 "outputs":[{"name":"pool","type":"address"}]}
]`

const algebraQuoterJSON = `[
{"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
           {"name":"amountIn","type":"uint256"},{"name":"limitSqrtPrice","type":"uint160"}],
 "outputs":[{"name":"amountOut","type":"uint256"},{"name":"fee","type":"uint16"}]}
]`

const algebraRouterJSON = `[
{"name":"exactInputSingle","type":"function","stateMutability":"payable",
 "inputs":[{"name":"params","type":"tuple","components":[
   {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
   {"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},
   {"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},
   {"name":"limitSqrtPrice","type":"uint160"}]}],
 "outputs":[{"name":"amountOut","type":"uint256"}]}
]`

const erc20JSON = `[
{"name":"balanceOf","type":"function","stateMutability":"view",
 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"allowance","type":"function","stateMutability":"view",
 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
 "outputs":[{"name":"","type":"uint256"}]},
{"name":"approve","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
 "outputs":[{"name":"","type":"bool"}]}
]`

// Parsed ABIs.
var (
	RouterV2       = mustParse(routerV2JSON)
	FactoryV2      = mustParse(factoryV2JSON)
	PairV2         = mustParse(pairV2JSON)
	AlgebraFactory = mustParse(algebraFactoryJSON)
	AlgebraQuoter  = mustParse(algebraQuoterJSON)
	AlgebraRouter  = mustParse(algebraRouterJSON)
	ERC20          = mustParse(erc20JSON)
)

// TransferTopic is topic0 of the ERC20 Transfer event.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

func mustParse(js string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic("contracts: parse abi: " + err.Error())
	}
	return parsed
}

// ExactInputSingleParams is the tuple argument of the Algebra router's
// exactInputSingle. Field names match the ABI components.
type ExactInputSingleParams struct {
	TokenIn          common.Address
	TokenOut         common.Address
	Recipient        common.Address
	Deadline         *big.Int
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
	LimitSqrtPrice   *big.Int
}
