package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const votingRegistryABIJSON = `[
  {"type":"function","name":"getVotingRoundId","stateMutability":"view","inputs":[
    {"name":"timestamp","type":"uint256"}],
   "outputs":[{"name":"","type":"uint64"}]},
  {"type":"function","name":"isFinalized","stateMutability":"view","inputs":[
    {"name":"attestationType","type":"bytes32"},
    {"name":"votingRoundId","type":"uint64"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

var votingRegistryABI = mustABI(votingRegistryABIJSON)

// VotingRegistry reads voting round assignment and finality from the
// destination chain's registry contract.
type VotingRegistry struct {
	addr   common.Address
	caller ethereum.ContractCaller
}

// NewVotingRegistry binds the registry contract at addr.
func NewVotingRegistry(addr common.Address, caller ethereum.ContractCaller) *VotingRegistry {
	return &VotingRegistry{addr: addr, caller: caller}
}

// VotingRoundOf maps a block timestamp to the voting round it falls in.
func (r *VotingRegistry) VotingRoundOf(ctx context.Context, timestamp uint64) (uint64, error) {
	vals, err := callView(ctx, r.caller, votingRegistryABI, r.addr, nil, "getVotingRoundId", new(big.Int).SetUint64(timestamp))
	if err != nil {
		return 0, err
	}
	round, ok := vals[0].(uint64)
	if !ok {
		return 0, fmt.Errorf("contracts: getVotingRoundId: unexpected output type")
	}
	return round, nil
}

// IsFinalized reports whether the given voting round has finalized for the
// attestation type.
func (r *VotingRegistry) IsFinalized(ctx context.Context, attestationType [32]byte, round uint64) (bool, error) {
	vals, err := callView(ctx, r.caller, votingRegistryABI, r.addr, nil, "isFinalized", attestationType, round)
	if err != nil {
		return false, err
	}
	final, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("contracts: isFinalized: unexpected output type")
	}
	return final, nil
}
