package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// RevertReason extracts a Solidity Error(string) revert reason from an RPC
// error, when the node attached the revert data. The second return reports
// whether a reason was found.
func RevertReason(err error) (string, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return "", false
	}

	hexData, ok := de.ErrorData().(string)
	if !ok {
		return "", false
	}

	data, decErr := hexutil.Decode(hexData)
	if decErr != nil {
		return "", false
	}

	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return "", false
	}
	return reason, true
}

// ReplayRevertReason re-executes a mined transaction as a call at its
// inclusion block to recover the revert reason of a failed receipt. Nodes do
// not store revert data with receipts, so replaying is the only way to learn
// why a landed transaction failed.
func (c *Client) ReplayRevertReason(ctx context.Context, tx *types.Transaction, from common.Address, blockNumber *big.Int) (string, error) {
	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}

	_, err := c.eth.CallContract(ctx, msg, blockNumber)
	if err == nil {
		return "", fmt.Errorf("chain: %s replay of %s did not revert", c.cfg.Key, tx.Hash().Hex())
	}

	if reason, ok := RevertReason(err); ok {
		return reason, nil
	}
	return "", fmt.Errorf("chain: %s replay of %s: no revert reason: %w", c.cfg.Key, tx.Hash().Hex(), err)
}
