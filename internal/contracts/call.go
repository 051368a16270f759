package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Call packs method with args, performs an eth_call against the latest block
// and unpacks the outputs.
func Call(ctx context.Context, caller ethereum.ContractCaller, contractABI abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contracts: pack %s: %w", method, err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("contracts: unpack %s: %w", method, err)
	}
	return vals, nil
}

// BigOut extracts the i-th output as *big.Int.
func BigOut(vals []any, i int) (*big.Int, error) {
	if i >= len(vals) {
		return nil, fmt.Errorf("contracts: output %d missing", i)
	}
	v, ok := vals[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("contracts: output %d is %T, want *big.Int", i, vals[i])
	}
	return v, nil
}

// AddressOut extracts the i-th output as common.Address.
func AddressOut(vals []any, i int) (common.Address, error) {
	if i >= len(vals) {
		return common.Address{}, fmt.Errorf("contracts: output %d missing", i)
	}
	v, ok := vals[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("contracts: output %d is %T, want address", i, vals[i])
	}
	return v, nil
}
