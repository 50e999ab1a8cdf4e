package contracts

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/relaybot/internal/attest"
	"github.com/alanyoungcy/relaybot/internal/chain"
)

const hubABIJSON = `[
  {"type":"function","name":"requestAttestation","stateMutability":"payable","inputs":[
    {"name":"data","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"requestFeeConfigurations","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]}
]`

const feeConfigABIJSON = `[
  {"type":"function","name":"getRequestFee","stateMutability":"view","inputs":[
    {"name":"data","type":"bytes"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	hubABI       = mustABI(hubABIJSON)
	feeConfigABI = mustABI(feeConfigABIJSON)
)

// Hub submits attestation requests on the destination chain and resolves the
// request fee through the fee configuration contract the hub points at.
type Hub struct {
	addr   common.Address
	client *chain.Client
	key    *ecdsa.PrivateKey
	logger *slog.Logger
}

// NewHub binds the hub contract at addr on the given chain, paying fees from
// key's account.
func NewHub(addr common.Address, client *chain.Client, key *ecdsa.PrivateKey, logger *slog.Logger) *Hub {
	return &Hub{
		addr:   addr,
		client: client,
		key:    key,
		logger: logger.With(slog.String("component", "hub")),
	}
}

// RequestFee looks up the fee the hub charges for the given encoded request.
func (h *Hub) RequestFee(ctx context.Context, request []byte) (*big.Int, error) {
	vals, err := callView(ctx, h.client.Caller(), hubABI, h.addr, nil, "requestFeeConfigurations")
	if err != nil {
		return nil, err
	}
	feeCfg, ok := vals[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("contracts: requestFeeConfigurations: unexpected output type")
	}

	vals, err = callView(ctx, h.client.Caller(), feeConfigABI, feeCfg, nil, "getRequestFee", request)
	if err != nil {
		return nil, err
	}
	fee, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("contracts: getRequestFee: unexpected output type")
	}
	return fee, nil
}

// RequestAttestation sends requestAttestation with the fee attached, waits
// for the configured confirmation depth, and reports the inclusion receipt
// the voting round is derived from.
func (h *Hub) RequestAttestation(ctx context.Context, request []byte, fee *big.Int) (attest.InclusionReceipt, error) {
	data, err := hubABI.Pack("requestAttestation", request)
	if err != nil {
		return attest.InclusionReceipt{}, fmt.Errorf("contracts: pack requestAttestation: %w", err)
	}

	tx, err := h.client.SendTx(ctx, chain.TxOpts{
		Key:   h.key,
		To:    h.addr,
		Data:  data,
		Value: fee,
	})
	if err != nil {
		return attest.InclusionReceipt{}, err
	}

	receipt, err := h.client.WaitConfirmed(ctx, tx.Hash())
	if err != nil {
		return attest.InclusionReceipt{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return attest.InclusionReceipt{}, fmt.Errorf("contracts: requestAttestation %s reverted", tx.Hash().Hex())
	}

	ts, err := h.client.BlockTime(ctx, receipt.BlockNumber)
	if err != nil {
		return attest.InclusionReceipt{}, err
	}

	h.logger.InfoContext(ctx, "attestation requested",
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
		slog.String("fee_wei", fee.String()))

	return attest.InclusionReceipt{
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Timestamp:   ts,
	}, nil
}
