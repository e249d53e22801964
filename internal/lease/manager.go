// Package lease grants time-bounded single-writer leases on scripts.
//
// Expiry is lazy: nothing sweeps old leases. A lease whose ExpiresAt is not
// after the current time is treated as absent by Acquire, Release and Status.
package lease

import (
	"context"
	"errors"
	"script-desk/internal/domain"
	"time"
)

// ErrContention is returned when acquire kept racing with other writers.
var ErrContention = errors.New("lease acquire kept racing, try again")

// acquireAttempts bounds the read-back loop after a refused write. A refused
// write followed by a free read means the holder released in between.
const acquireAttempts = 3

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

// Claim is who is asking for the lease and from which edit session.
type Claim struct {
	User     string
	UserName string
	Session  string
	// Reclaim lets a user take over their own lease from another session.
	Reclaim bool
	// Renew only extends a lease this session already holds. It never
	// grants a free lease: that yields domain.ErrLeaseLost.
	Renew bool
}

type Manager interface {
	// Acquire grants, renews or reclaims the lease atomically. A valid lease
	// held by anyone else yields *domain.LockedError. With Claim.Renew a
	// free or expired lease yields domain.ErrLeaseLost.
	Acquire(ctx context.Context, scope domain.Scope, claim Claim) (domain.Lease, error)
	// Release clears the lease when user/session is the current valid holder
	// and reports whether anything was cleared. Anything else is a no-op.
	Release(ctx context.Context, scope domain.Scope, user, session string) (bool, error)
	// Status returns the valid lease or nil when the script is free.
	Status(ctx context.Context, scope domain.Scope) (*domain.Lease, error)
}

func validateClaim(scope domain.Scope, claim Claim) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if claim.User == "" || claim.Session == "" {
		return errors.New("lease claim needs a user and a session")
	}
	return nil
}

func lockedBy(current domain.Lease, claim Claim) *domain.LockedError {
	return &domain.LockedError{
		Holder:     current.Holder,
		HolderName: current.HolderName,
		HeldBySelf: current.Holder == claim.User,
		ExpiresAt:  current.ExpiresAt,
	}
}
