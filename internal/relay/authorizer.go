package relay

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// Authorizer answers whether an address may perform administrative operations
// on the relay engine. The engine never inspects ownership directly, so a
// multi-sig or role-based policy can replace the single owner without
// touching invariant logic.
type Authorizer interface {
	// Authorize returns nil when the address may administer the engine.
	Authorize(addr common.Address) error
}

// OwnerAuthorizer is the minimal policy: exactly one owner address.
type OwnerAuthorizer struct {
	owner common.Address
}

// NewOwnerAuthorizer creates an OwnerAuthorizer for the given owner.
func NewOwnerAuthorizer(owner common.Address) *OwnerAuthorizer {
	return &OwnerAuthorizer{owner: owner}
}

// Authorize implements Authorizer.
func (a *OwnerAuthorizer) Authorize(addr common.Address) error {
	if addr != a.owner {
		return domain.ErrNotOwner
	}
	return nil
}

// Owner returns the owner address.
func (a *OwnerAuthorizer) Owner() common.Address {
	return a.owner
}

var _ Authorizer = (*OwnerAuthorizer)(nil)
