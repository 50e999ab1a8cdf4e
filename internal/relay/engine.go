// Package relay implements the relay invariant contract: the accept/reject
// rules for off-chain-submitted price observations, the canonical
// observation-accepted event, and the client-side binding for the deployed
// contract. The Engine here is the authoritative Go expression of the
// deployed contract's semantics; the updater runs it as a preflight check and
// the tests pin every rejection rule against it.
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/relaybot/internal/domain"
	"github.com/alanyoungcy/relaybot/internal/pricemath"
)

// Params are the tunable relay constraints.
type Params struct {
	// MaxPriceAge rejects observations older than this as stale.
	MaxPriceAge time.Duration

	// MaxFutureSkew tolerates source clocks slightly ahead of local time.
	MaxFutureSkew time.Duration

	// MinRelayInterval rate-limits accepted relays per pool.
	MinRelayInterval time.Duration

	// MaxDeviationBps bounds the price change between consecutive accepted
	// observations, inclusive.
	MaxDeviationBps uint64
}

// DefaultParams returns the reference constraint set.
func DefaultParams() Params {
	return Params{
		MaxPriceAge:      time.Hour,
		MaxFutureSkew:    600 * time.Second,
		MinRelayInterval: 5 * time.Minute,
		MaxDeviationBps:  5000,
	}
}

// PoolKey identifies one configured pool on one source chain.
type PoolKey struct {
	ChainID uint64
	Pool    common.Address
}

// PoolConfig is the per-pool relay state. Token0 and Token1 are bound by the
// first EnablePool and never change afterward; LastBlockNumber only grows and
// survives disable/enable cycles, so replayed observations stay inert.
type PoolConfig struct {
	Token0             common.Address
	Token1             common.Address
	Enabled            bool
	LastBlockNumber    uint64
	LastSqrtPrice      *uint256.Int
	LastRelayTimestamp uint64
}

// Clock supplies the engine's notion of now. Injected for tests.
type Clock func() time.Time

// Engine applies the relay invariants. Safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	auth     Authorizer
	params   Params
	clock    Clock
	paused   bool
	chains   map[uint64]bool
	pools    map[PoolKey]*PoolConfig
	relayers map[common.Address]bool
}

// NewEngine creates an Engine with the given admin policy and constraints.
// A nil clock defaults to time.Now.
func NewEngine(auth Authorizer, params Params, clock Clock) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		auth:     auth,
		params:   params,
		clock:    clock,
		chains:   make(map[uint64]bool),
		pools:    make(map[PoolKey]*PoolConfig),
		relayers: make(map[common.Address]bool),
	}
}

// Params returns the engine's constraint set.
func (e *Engine) Params() Params {
	return e.params
}

// EnableChain allows pools on the chain to be configured and relayed.
func (e *Engine) EnableChain(caller common.Address, chainID uint64) error {
	if err := e.auth.Authorize(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chains[chainID] {
		return domain.ErrChainAlreadyEnabled
	}
	e.chains[chainID] = true
	return nil
}

// DisableChain blocks every pool on the chain from relaying.
func (e *Engine) DisableChain(caller common.Address, chainID uint64) error {
	if err := e.auth.Authorize(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.chains[chainID] {
		return domain.ErrChainNotEnabled
	}
	delete(e.chains, chainID)
	return nil
}

// EnablePool configures a pool and binds its token pair. The binding is
// permanent: re-enabling a previously disabled pool with a different pair is
// rejected, and its block-number watermark carries over.
func (e *Engine) EnablePool(caller common.Address, chainID uint64, pool, token0, token1 common.Address) error {
	if err := e.auth.Authorize(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.chains[chainID] {
		return domain.ErrChainNotEnabled
	}
	if token0 == token1 {
		return domain.ErrIdenticalTokens
	}
	if token0 == (common.Address{}) || token1 == (common.Address{}) {
		return domain.ErrZeroTokenAddress
	}

	key := PoolKey{ChainID: chainID, Pool: pool}
	pc := e.pools[key]
	if pc == nil {
		e.pools[key] = &PoolConfig{Token0: token0, Token1: token1, Enabled: true}
		return nil
	}
	if pc.Enabled {
		return domain.ErrPoolAlreadyEnabled
	}
	if pc.Token0 != token0 || pc.Token1 != token1 {
		return domain.ErrTokenMismatch
	}
	pc.Enabled = true
	return nil
}

// DisablePool stops a pool from accepting observations. Its binding and
// watermarks are retained.
func (e *Engine) DisablePool(caller common.Address, chainID uint64, pool common.Address) error {
	if err := e.auth.Authorize(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pc := e.pools[PoolKey{ChainID: chainID, Pool: pool}]
	if pc == nil || !pc.Enabled {
		return domain.ErrPoolNotEnabled
	}
	pc.Enabled = false
	return nil
}

// AuthorizeRelayer permits an address to submit observations.
func (e *Engine) AuthorizeRelayer(caller, relayer common.Address) error {
	if err := e.auth.Authorize(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.relayers[relayer] {
		return domain.ErrAlreadyRelayer
	}
	e.relayers[relayer] = true
	return nil
}

// RevokeRelayer removes a relayer's permission.
func (e *Engine) RevokeRelayer(caller, relayer common.Address) error {
	if err := e.auth.Authorize(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.relayers[relayer] {
		return domain.ErrNotRelayer
	}
	delete(e.relayers, relayer)
	return nil
}

// Pause makes RelayPrice reject unconditionally until Unpause.
func (e *Engine) Pause(caller common.Address) error {
	if err := e.auth.Authorize(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	return nil
}

// Unpause resumes normal operation.
func (e *Engine) Unpause(caller common.Address) error {
	if err := e.auth.Authorize(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	return nil
}

// RelayPrice applies the acceptance checks to an observation and, on success,
// advances the pool's watermarks and returns the canonical accepted event.
// Checks run in a fixed order and the first failure wins, so callers see the
// same rejection the deployed contract would revert with.
func (e *Engine) RelayPrice(caller common.Address, obs domain.Observation) (*PriceRelayed, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return nil, domain.ErrRelayPaused
	}
	if !e.relayers[caller] {
		return nil, domain.ErrNotRelayer
	}
	if !e.chains[obs.SourceChainID] {
		return nil, domain.ErrChainNotEnabled
	}

	pc := e.pools[PoolKey{ChainID: obs.SourceChainID, Pool: obs.Pool}]
	if pc == nil {
		return nil, domain.ErrPoolNotEnabled
	}

	now := e.clock()
	if err := Validate(*pc, e.params, obs, now); err != nil {
		return nil, err
	}

	pc.LastBlockNumber = obs.SourceBlockNumber
	pc.LastSqrtPrice = new(uint256.Int).Set(obs.SqrtPriceX96)
	pc.LastRelayTimestamp = uint64(now.Unix())

	return &PriceRelayed{
		Version:           EventSchemaVersion,
		SourceChainID:     obs.SourceChainID,
		Pool:              obs.Pool,
		Relayer:           caller,
		SqrtPriceX96:      new(uint256.Int).Set(obs.SqrtPriceX96),
		Tick:              obs.Tick,
		Liquidity:         cloneOrZero(obs.Liquidity),
		Token0:            obs.Token0,
		Token1:            obs.Token1,
		SourceTimestamp:   obs.SourceTimestamp,
		SourceBlockNumber: obs.SourceBlockNumber,
		RelayTimestamp:    uint64(now.Unix()),
	}, nil
}

// Validate runs the observation acceptance checks against a pool snapshot
// without mutating anything. The updater uses it as a gas-free preflight
// against the on-chain pool state; RelayPrice uses it as the single source of
// the check order.
func Validate(pc PoolConfig, p Params, obs domain.Observation, now time.Time) error {
	// Check 1: pool enabled and a usable price.
	if !pc.Enabled {
		return domain.ErrPoolNotEnabled
	}
	if obs.SqrtPriceX96 == nil || obs.SqrtPriceX96.IsZero() {
		return domain.ErrZeroSqrtPrice
	}
	if obs.SqrtPriceX96.BitLen() > 160 {
		return domain.ErrSqrtPriceRange
	}

	// Check 2: token binding.
	if obs.Token0 != pc.Token0 || obs.Token1 != pc.Token1 {
		return domain.ErrTokenMismatch
	}

	// Check 3: timestamp window.
	nowSec := uint64(now.Unix())
	if obs.SourceTimestamp > nowSec {
		if obs.SourceTimestamp-nowSec > uint64(p.MaxFutureSkew/time.Second) {
			return domain.ErrFutureTimestamp
		}
	} else if nowSec-obs.SourceTimestamp > uint64(p.MaxPriceAge/time.Second) {
		return domain.ErrStalePrice
	}

	// Check 4: strict block monotonicity, the primary replay defense.
	if obs.SourceBlockNumber <= pc.LastBlockNumber {
		return domain.ErrStaleBlock
	}

	// Check 5: per-pool rate limit.
	if nowSec < pc.LastRelayTimestamp+uint64(p.MinRelayInterval/time.Second) {
		return domain.ErrIntervalNotElapsed
	}

	// Check 6: deviation bound against the previous accepted price.
	if pc.LastSqrtPrice != nil && !pc.LastSqrtPrice.IsZero() {
		dev, err := pricemath.DeviationBps(pc.LastSqrtPrice, obs.SqrtPriceX96)
		if err != nil {
			return fmt.Errorf("relay: deviation: %w", err)
		}
		if dev.CmpUint64(p.MaxDeviationBps) > 0 {
			return domain.ErrDeviationTooHigh
		}
	}
	return nil
}

// CanRelay reproduces the enablement and rate-limit checks only. It is
// informational: a true result does not promise RelayPrice will accept, since
// token, timestamp, block and deviation checks still apply there.
func (e *Engine) CanRelay(chainID uint64, pool common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused || !e.chains[chainID] {
		return false
	}
	pc := e.pools[PoolKey{ChainID: chainID, Pool: pool}]
	if pc == nil || !pc.Enabled {
		return false
	}
	nowSec := uint64(e.clock().Unix())
	return nowSec >= pc.LastRelayTimestamp+uint64(e.params.MinRelayInterval/time.Second)
}

// TimeUntilNextRelay returns how long the pool's rate limit still has to run.
func (e *Engine) TimeUntilNextRelay(chainID uint64, pool common.Address) (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc := e.pools[PoolKey{ChainID: chainID, Pool: pool}]
	if pc == nil {
		return 0, domain.ErrPoolNotEnabled
	}
	next := pc.LastRelayTimestamp + uint64(e.params.MinRelayInterval/time.Second)
	nowSec := uint64(e.clock().Unix())
	if nowSec >= next {
		return 0, nil
	}
	return time.Duration(next-nowSec) * time.Second, nil
}

// PoolConfigOf returns a copy of the pool's relay state.
func (e *Engine) PoolConfigOf(chainID uint64, pool common.Address) (PoolConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc := e.pools[PoolKey{ChainID: chainID, Pool: pool}]
	if pc == nil {
		return PoolConfig{}, domain.ErrPoolNotEnabled
	}
	out := *pc
	if pc.LastSqrtPrice != nil {
		out.LastSqrtPrice = new(uint256.Int).Set(pc.LastSqrtPrice)
	}
	return out, nil
}

// IsRelayer reports whether the address may submit observations.
func (e *Engine) IsRelayer(addr common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.relayers[addr]
}

// IsChainEnabled reports whether the chain may be referenced.
func (e *Engine) IsChainEnabled(chainID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chains[chainID]
}

// IsPaused reports whether RelayPrice is suspended.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func cloneOrZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}
