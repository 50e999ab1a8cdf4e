package relay

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// relayABIJSON is the external ABI of the deployed relay contract. The Engine
// in this package implements the same semantics; the binding below packs
// calls against the deployed instance.
const relayABIJSON = `[
  {"type":"function","name":"relayPrice","stateMutability":"nonpayable","inputs":[
    {"name":"sourceChainId","type":"uint64"},
    {"name":"pool","type":"address"},
    {"name":"sqrtPriceX96","type":"uint160"},
    {"name":"tick","type":"int24"},
    {"name":"liquidity","type":"uint128"},
    {"name":"token0","type":"address"},
    {"name":"token1","type":"address"},
    {"name":"sourceTimestamp","type":"uint64"},
    {"name":"sourceBlockNumber","type":"uint64"}],"outputs":[]},
  {"type":"function","name":"canRelay","stateMutability":"view","inputs":[
    {"name":"sourceChainId","type":"uint64"},
    {"name":"pool","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"timeUntilNextRelay","stateMutability":"view","inputs":[
    {"name":"sourceChainId","type":"uint64"},
    {"name":"pool","type":"address"}],
   "outputs":[{"name":"","type":"uint64"}]},
  {"type":"function","name":"getPoolConfig","stateMutability":"view","inputs":[
    {"name":"sourceChainId","type":"uint64"},
    {"name":"pool","type":"address"}],
   "outputs":[
    {"name":"token0","type":"address"},
    {"name":"token1","type":"address"},
    {"name":"enabled","type":"bool"},
    {"name":"lastBlockNumber","type":"uint64"},
    {"name":"lastSqrtPrice","type":"uint160"},
    {"name":"lastRelayTimestamp","type":"uint64"}]},
  {"type":"event","name":"PriceRelayed","anonymous":false,"inputs":[
    {"name":"sourceChainId","type":"uint64","indexed":true},
    {"name":"pool","type":"address","indexed":true},
    {"name":"relayer","type":"address","indexed":true},
    {"name":"version","type":"uint8","indexed":false},
    {"name":"sqrtPriceX96","type":"uint160","indexed":false},
    {"name":"tick","type":"int24","indexed":false},
    {"name":"liquidity","type":"uint128","indexed":false},
    {"name":"token0","type":"address","indexed":false},
    {"name":"token1","type":"address","indexed":false},
    {"name":"sourceTimestamp","type":"uint64","indexed":false},
    {"name":"sourceBlockNumber","type":"uint64","indexed":false},
    {"name":"relayTimestamp","type":"uint64","indexed":false}]}
]`

var relayABI = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(relayABIJSON))
	if err != nil {
		panic(fmt.Sprintf("relay: parse ABI: %v", err))
	}
	return a
}()

// revertSentinels maps the deployed contract's revert reasons onto the same
// sentinels the local Engine returns.
var revertSentinels = map[string]error{
	domain.ErrNotRelayer.Error():         domain.ErrNotRelayer,
	domain.ErrChainNotEnabled.Error():    domain.ErrChainNotEnabled,
	domain.ErrPoolNotEnabled.Error():     domain.ErrPoolNotEnabled,
	domain.ErrZeroSqrtPrice.Error():      domain.ErrZeroSqrtPrice,
	domain.ErrSqrtPriceRange.Error():     domain.ErrSqrtPriceRange,
	domain.ErrTokenMismatch.Error():      domain.ErrTokenMismatch,
	domain.ErrFutureTimestamp.Error():    domain.ErrFutureTimestamp,
	domain.ErrStalePrice.Error():         domain.ErrStalePrice,
	domain.ErrStaleBlock.Error():         domain.ErrStaleBlock,
	domain.ErrIntervalNotElapsed.Error(): domain.ErrIntervalNotElapsed,
	domain.ErrDeviationTooHigh.Error():   domain.ErrDeviationTooHigh,
	domain.ErrRelayPaused.Error():        domain.ErrRelayPaused,
}

// MapRevert converts a decoded revert reason string to its sentinel error.
// Unknown reasons come back as plain errors carrying the reason text.
func MapRevert(reason string) error {
	if err, ok := revertSentinels[reason]; ok {
		return err
	}
	return fmt.Errorf("relay: contract reverted: %s", reason)
}

// Binding packs calls and reads views against a deployed relay contract.
type Binding struct {
	addr common.Address
}

// NewBinding creates a Binding for the contract at addr.
func NewBinding(addr common.Address) *Binding {
	return &Binding{addr: addr}
}

// Address returns the contract address.
func (b *Binding) Address() common.Address {
	return b.addr
}

// PackRelayPrice encodes the relayPrice calldata for an observation.
func (b *Binding) PackRelayPrice(obs domain.Observation) ([]byte, error) {
	if obs.SqrtPriceX96 == nil {
		return nil, domain.ErrZeroSqrtPrice
	}
	liq := obs.Liquidity
	if liq == nil {
		liq = new(uint256.Int)
	}
	data, err := relayABI.Pack("relayPrice",
		obs.SourceChainID,
		obs.Pool,
		obs.SqrtPriceX96.ToBig(),
		big.NewInt(int64(obs.Tick)),
		liq.ToBig(),
		obs.Token0,
		obs.Token1,
		obs.SourceTimestamp,
		obs.SourceBlockNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("relay: pack relayPrice: %w", err)
	}
	return data, nil
}

// CanRelay calls the contract's canRelay view.
func (b *Binding) CanRelay(ctx context.Context, caller ethereum.ContractCaller, chainID uint64, pool common.Address) (bool, error) {
	out, err := b.call(ctx, caller, "canRelay", chainID, pool)
	if err != nil {
		return false, err
	}
	vals, err := relayABI.Unpack("canRelay", out)
	if err != nil {
		return false, fmt.Errorf("relay: unpack canRelay: %w", err)
	}
	ok, _ := vals[0].(bool)
	return ok, nil
}

// TimeUntilNextRelay calls the contract's timeUntilNextRelay view.
func (b *Binding) TimeUntilNextRelay(ctx context.Context, caller ethereum.ContractCaller, chainID uint64, pool common.Address) (time.Duration, error) {
	out, err := b.call(ctx, caller, "timeUntilNextRelay", chainID, pool)
	if err != nil {
		return 0, err
	}
	vals, err := relayABI.Unpack("timeUntilNextRelay", out)
	if err != nil {
		return 0, fmt.Errorf("relay: unpack timeUntilNextRelay: %w", err)
	}
	secs, _ := vals[0].(uint64)
	return time.Duration(secs) * time.Second, nil
}

// PoolConfigOf reads the pool's relay state from the contract.
func (b *Binding) PoolConfigOf(ctx context.Context, caller ethereum.ContractCaller, chainID uint64, pool common.Address) (PoolConfig, error) {
	out, err := b.call(ctx, caller, "getPoolConfig", chainID, pool)
	if err != nil {
		return PoolConfig{}, err
	}
	vals, err := relayABI.Unpack("getPoolConfig", out)
	if err != nil {
		return PoolConfig{}, fmt.Errorf("relay: unpack getPoolConfig: %w", err)
	}
	if len(vals) != 6 {
		return PoolConfig{}, fmt.Errorf("relay: unpack getPoolConfig: got %d fields, want 6", len(vals))
	}
	sqrt, overflow := uint256.FromBig(vals[4].(*big.Int))
	if overflow {
		return PoolConfig{}, fmt.Errorf("relay: last sqrt price overflows uint256")
	}
	return PoolConfig{
		Token0:             vals[0].(common.Address),
		Token1:             vals[1].(common.Address),
		Enabled:            vals[2].(bool),
		LastBlockNumber:    vals[3].(uint64),
		LastSqrtPrice:      sqrt,
		LastRelayTimestamp: vals[5].(uint64),
	}, nil
}

func (b *Binding) call(ctx context.Context, caller ethereum.ContractCaller, method string, args ...any) ([]byte, error) {
	input, err := relayABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("relay: pack %s: %w", method, err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &b.addr, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: call %s: %w", method, err)
	}
	return out, nil
}
