package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)

// Relay engine rejection reasons. These mirror the revert reasons of the
// deployed relay contract one-to-one so a decoded revert maps back onto the
// same sentinel the local engine returns.
var (
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrNotRelayer          = errors.New("caller is not an authorized relayer")
	ErrAlreadyRelayer      = errors.New("relayer already authorized")
	ErrChainNotEnabled     = errors.New("chain not enabled")
	ErrChainAlreadyEnabled = errors.New("chain already enabled")
	ErrPoolNotEnabled      = errors.New("pool not enabled")
	ErrPoolAlreadyEnabled  = errors.New("pool already enabled")
	ErrIdenticalTokens     = errors.New("identical tokens")
	ErrZeroTokenAddress    = errors.New("zero token address")
	ErrZeroSqrtPrice       = errors.New("sqrt price is zero")
	ErrSqrtPriceRange      = errors.New("sqrt price out of range")
	ErrTokenMismatch       = errors.New("token binding mismatch")
	ErrFutureTimestamp     = errors.New("future timestamp")
	ErrStalePrice          = errors.New("stale price")
	ErrStaleBlock          = errors.New("stale block number")
	ErrIntervalNotElapsed  = errors.New("relay interval not elapsed")
	ErrDeviationTooHigh    = errors.New("deviation too high")
	ErrRelayPaused         = errors.New("relay paused")
)

// Orchestrator and attestation pipeline conditions.
var (
	ErrGasTooHigh  = errors.New("gas price above ceiling")
	ErrLowBalance  = errors.New("wallet balance below critical threshold")
	ErrCircuitOpen = errors.New("circuit breaker open")
	ErrNoProof     = errors.New("no proof available")
)
