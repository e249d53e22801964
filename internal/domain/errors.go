package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("script owner not found")
	ErrOrdinalTaken   = errors.New("version ordinal already taken")
	ErrCommitConflict = errors.New("version commit kept conflicting")
	// ErrLeaseLost is a renewal by a session that no longer holds the lease
	// while nobody else holds it either.
	ErrLeaseLost = errors.New("lease is no longer held by this session")
)

// LockedError reports a valid lease held by someone else.
// HeldBySelf is set when the same user holds it from a different session.
type LockedError struct {
	Holder     string
	HolderName string
	HeldBySelf bool
	ExpiresAt  time.Time
}

func (e *LockedError) Error() string {
	if e.HeldBySelf {
		return "script is open in another session of the same user"
	}
	return fmt.Sprintf("script is locked by %s", e.Holder)
}

func AsLocked(err error) (*LockedError, bool) {
	var locked *LockedError
	if errors.As(err, &locked) {
		return locked, true
	}
	return nil, false
}
