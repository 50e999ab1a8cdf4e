package contracts

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const recorderABIJSON = `[
  {"type":"function","name":"recordPrice","stateMutability":"nonpayable","inputs":[
    {"name":"pool","type":"address"}],"outputs":[]},
  {"type":"function","name":"canUpdate","stateMutability":"view","inputs":[
    {"name":"pool","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

var recorderABI = mustABI(recorderABIJSON)

// Recorder binds a source-chain recorder contract. recordPrice snapshots the
// pool on-chain and emits the event the attestation later proves.
type Recorder struct {
	addr common.Address
}

// NewRecorder binds the recorder contract at addr.
func NewRecorder(addr common.Address) *Recorder {
	return &Recorder{addr: addr}
}

// Address returns the contract address.
func (r *Recorder) Address() common.Address {
	return r.addr
}

// PackRecordPrice encodes the recordPrice calldata for the given pool.
func (r *Recorder) PackRecordPrice(pool common.Address) ([]byte, error) {
	data, err := recorderABI.Pack("recordPrice", pool)
	if err != nil {
		return nil, fmt.Errorf("contracts: pack recordPrice: %w", err)
	}
	return data, nil
}

// CanUpdate reports whether the recorder would accept a snapshot for the
// pool right now (its own rate limit has elapsed).
func (r *Recorder) CanUpdate(ctx context.Context, caller ethereum.ContractCaller, pool common.Address) (bool, error) {
	vals, err := callView(ctx, caller, recorderABI, r.addr, nil, "canUpdate", pool)
	if err != nil {
		return false, err
	}
	ok, _ := vals[0].(bool)
	return ok, nil
}
