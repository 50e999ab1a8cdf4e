package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/relaybot/internal/attest"
	"github.com/alanyoungcy/relaybot/internal/domain"
)

// updatePriceMethod is built from the canonical proof layout, so the
// calldata this binding produces always matches the codec's encoding.
var updatePriceMethod = abi.NewMethod(
	"updatePrice", "updatePrice", abi.Function, "nonpayable", false, false,
	attest.ProofArguments(), nil,
)

const feedABIJSON = `[
  {"type":"function","name":"latest","stateMutability":"view","inputs":[],"outputs":[
    {"name":"price","type":"uint256"},
    {"name":"timestamp","type":"uint64"},
    {"name":"updateCount","type":"uint64"}]}
]`

var feedABI = mustABI(feedABIJSON)

// Feed binds one destination-chain price feed contract.
type Feed struct {
	addr common.Address
}

// NewFeed binds the feed contract at addr.
func NewFeed(addr common.Address) *Feed {
	return &Feed{addr: addr}
}

// Address returns the contract address.
func (f *Feed) Address() common.Address {
	return f.addr
}

// PackUpdatePrice encodes the updatePrice calldata carrying a verified
// attestation proof.
func (f *Feed) PackUpdatePrice(p *domain.AttestationProof) ([]byte, error) {
	args, err := attest.EncodeProofArgs(p)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(updatePriceMethod.ID)+len(args))
	data = append(data, updatePriceMethod.ID...)
	data = append(data, args...)
	return data, nil
}

// LatestValue is the feed's current published state.
type LatestValue struct {
	Price       *uint256.Int
	Timestamp   uint64
	UpdateCount uint64
}

// Latest reads the feed's current price, publish timestamp and update count.
func (f *Feed) Latest(ctx context.Context, caller ethereum.ContractCaller) (LatestValue, error) {
	vals, err := callView(ctx, caller, feedABI, f.addr, nil, "latest")
	if err != nil {
		return LatestValue{}, err
	}
	if len(vals) != 3 {
		return LatestValue{}, fmt.Errorf("contracts: latest: got %d outputs, want 3", len(vals))
	}

	priceBig, ok := vals[0].(*big.Int)
	if !ok {
		return LatestValue{}, fmt.Errorf("contracts: latest: unexpected price type")
	}
	price, overflow := uint256.FromBig(priceBig)
	if overflow {
		return LatestValue{}, fmt.Errorf("contracts: latest: price overflows uint256")
	}

	ts, _ := vals[1].(uint64)
	count, _ := vals[2].(uint64)

	return LatestValue{Price: price, Timestamp: ts, UpdateCount: count}, nil
}
