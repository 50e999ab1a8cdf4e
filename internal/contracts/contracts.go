// Package contracts holds thin ABI bindings for the deployed contracts the
// bot interacts with: the attestation hub and its fee configuration, the
// voting round registry, the price feeds, the source-chain recorders and the
// observed pools. Each binding packs calldata and decodes outputs; sending
// and waiting stay with the chain clients.
package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func mustABI(raw string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("contracts: parse ABI: %v", err))
	}
	return a
}

// callView executes a read-only method at the given block (nil for latest)
// and returns the unpacked outputs.
func callView(ctx context.Context, caller ethereum.ContractCaller, a abi.ABI, addr common.Address, at *big.Int, method string, args ...any) ([]interface{}, error) {
	input, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contracts: pack %s: %w", method, err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: input}, at)
	if err != nil {
		return nil, fmt.Errorf("contracts: call %s: %w", method, err)
	}
	vals, err := a.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("contracts: unpack %s: %w", method, err)
	}
	return vals, nil
}
