package domain

import "time"

const DefaultLeaseTTL = 15 * time.Minute

// Lease is a time-bounded single-writer permission on one script.
// A lease is valid while now < ExpiresAt; there is no stored validity flag.
type Lease struct {
	Holder     string    `json:"holder"`
	HolderName string    `json:"holder_name"`
	Session    string    `json:"-"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func NewLease(holder, holderName, session string, now time.Time, ttl time.Duration) Lease {
	return Lease{
		Holder:     holder,
		HolderName: holderName,
		Session:    session,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}
}

func (l Lease) ValidAt(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// HeldBy reports whether the lease belongs to this exact user session.
func (l Lease) HeldBy(user, session string) bool {
	return l.Holder == user && l.Session == session
}

// ActiveLease returns the lease only if it is still valid at now.
func ActiveLease(l *Lease, now time.Time) *Lease {
	if l == nil || !l.ValidAt(now) {
		return nil
	}
	return l
}
