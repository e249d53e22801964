package editsession

import (
	"context"
	"errors"
	"script-desk/internal/domain"
	"strings"
	"sync"
	"time"
)

var errUnavailable = errors.New("service unavailable")

// fakeStore is one script shared by every fakeBackend view.
type fakeStore struct {
	mu       sync.Mutex
	content  string
	lease    *domain.Lease
	versions []domain.Version
	saves    []string
	releases []string
	ttl      time.Duration

	notFound   bool
	saveErr    error
	acquireErr error
	renewErr   error
	commitErr  error
	saveGate   chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{ttl: 15 * time.Minute}
}

// as returns the backend seen by one authenticated user.
func (s *fakeStore) as(user string) *fakeBackend {
	return &fakeBackend{store: s, user: user}
}

func (s *fakeStore) setLease(holder, session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := domain.NewLease(holder, "Name "+holder, session, time.Now(), s.ttl)
	s.lease = &l
}

func (s *fakeStore) holder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease == nil || !s.lease.ValidAt(time.Now()) {
		return ""
	}
	return s.lease.Holder
}

func (s *fakeStore) lastSave() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return "", 0
	}
	return s.saves[len(s.saves)-1], len(s.saves)
}

func (s *fakeStore) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.releases)
}

func (s *fakeStore) set(fn func(s *fakeStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

type fakeBackend struct {
	store *fakeStore
	user  string
}

func (b *fakeBackend) GetCurrent(ctx context.Context, scope domain.Scope) (*domain.Draft, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notFound {
		return nil, domain.ErrNotFound
	}
	d := domain.EmptyDraft(scope)
	d.Content = s.content
	d.Lease = domain.ActiveLease(s.lease, time.Now())
	return &d, nil
}

func (b *fakeBackend) AcquireLease(ctx context.Context, scope domain.Scope, session string, reclaim bool) (*domain.Lease, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	cur := domain.ActiveLease(s.lease, time.Now())
	if cur != nil && !(cur.Holder == b.user && (cur.Session == session || reclaim)) {
		return nil, &domain.LockedError{
			Holder:     cur.Holder,
			HolderName: cur.HolderName,
			HeldBySelf: cur.Holder == b.user,
			ExpiresAt:  cur.ExpiresAt,
		}
	}
	l := domain.NewLease(b.user, "Name "+b.user, session, time.Now(), s.ttl)
	s.lease = &l
	return &l, nil
}

func (b *fakeBackend) RenewLease(ctx context.Context, scope domain.Scope, session string) (*domain.Lease, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renewErr != nil {
		return nil, s.renewErr
	}
	cur := domain.ActiveLease(s.lease, time.Now())
	if cur == nil {
		return nil, domain.ErrLeaseLost
	}
	if !cur.HeldBy(b.user, session) {
		return nil, &domain.LockedError{
			Holder:     cur.Holder,
			HolderName: cur.HolderName,
			HeldBySelf: cur.Holder == b.user,
			ExpiresAt:  cur.ExpiresAt,
		}
	}
	l := domain.NewLease(b.user, "Name "+b.user, session, time.Now(), s.ttl)
	s.lease = &l
	return &l, nil
}

func (s *fakeStore) clearLease() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lease = nil
}

func (b *fakeBackend) ReleaseLease(ctx context.Context, scope domain.Scope, session string) (bool, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, session)
	cur := domain.ActiveLease(s.lease, time.Now())
	if cur == nil || !cur.HeldBy(b.user, session) {
		return false, nil
	}
	s.lease = nil
	return true, nil
}

func (b *fakeBackend) SaveDraft(ctx context.Context, scope domain.Scope, content string) (int, error) {
	s := b.store
	s.mu.Lock()
	gate := s.saveGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	s.content = content
	s.saves = append(s.saves, content)
	return len(strings.Fields(content)), nil
}

func (b *fakeBackend) CommitVersion(ctx context.Context, scope domain.Scope, content string) (*domain.Version, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return nil, s.commitErr
	}
	v := domain.Version{
		Scope:    scope,
		Ordinal:  len(s.versions) + 1,
		Content:  content,
		EditedBy: b.user,
		EditedAt: time.Now(),
	}
	s.versions = append(s.versions, v)
	return &v, nil
}
