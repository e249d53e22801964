// Package editsession is the client side of script editing: it opens a
// script, takes the lease when it can, autosaves while editing and always
// flushes and releases on close.
package editsession

import (
	"context"
	"errors"
	"fmt"
	"script-desk/internal/domain"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrReadOnly = errors.New("session is read-only")
	ErrClosed   = errors.New("session is closed")
)

type State int

const (
	Loading State = iota
	ReadOnlyLocked
	Editing
	Closed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case ReadOnlyLocked:
		return "read-only"
	case Editing:
		return "editing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Backend is the script API as seen by one authenticated user.
type Backend interface {
	GetCurrent(ctx context.Context, scope domain.Scope) (*domain.Draft, error)
	AcquireLease(ctx context.Context, scope domain.Scope, session string, reclaim bool) (*domain.Lease, error)
	// RenewLease extends the lease only while session holds it. A lost lease
	// yields *domain.LockedError or domain.ErrLeaseLost.
	RenewLease(ctx context.Context, scope domain.Scope, session string) (*domain.Lease, error)
	ReleaseLease(ctx context.Context, scope domain.Scope, session string) (bool, error)
	SaveDraft(ctx context.Context, scope domain.Scope, content string) (int, error)
	CommitVersion(ctx context.Context, scope domain.Scope, content string) (*domain.Version, error)
}

type Options struct {
	// AutosaveInterval is the tick period. Every tick renews the lease,
	// which confirms this session still holds it, before saving.
	AutosaveInterval time.Duration
	// FlushTimeout bounds each network call made on close.
	FlushTimeout time.Duration
	// SessionID identifies this session's lease. A random uuid when empty.
	SessionID     string
	Logger        *zap.Logger
	OnStateChange func(State)
}

func (o *Options) setDefaults() {
	if o.AutosaveInterval <= 0 {
		o.AutosaveInterval = 10 * time.Second
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 5 * time.Second
	}
	if o.SessionID == "" {
		o.SessionID = uuid.NewString()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type Session struct {
	backend Backend
	scope   domain.Scope
	user    string
	opts    Options
	logger  *zap.Logger

	mu        sync.Mutex
	state     State
	content   string
	dirty     bool
	wordCount int
	lease     *domain.Lease
	locked    *domain.LockedError
	saveErr   error
	scheduler *Scheduler

	closeOnce sync.Once
	closed    chan struct{}
}

// Open loads the script and tries to enter Editing. A script held by
// someone else opens ReadOnlyLocked with a nil error. Only a failed load
// is an error, and the returned session is then nil.
func Open(ctx context.Context, backend Backend, scope domain.Scope, user string, opts Options) (*Session, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	opts.setDefaults()

	s := &Session{
		backend: backend,
		scope:   scope,
		user:    user,
		opts:    opts,
		logger: opts.Logger.With(
			zap.Stringer("scope", scope),
			zap.String("session", opts.SessionID)),
		state:  Loading,
		closed: make(chan struct{}),
	}

	if err := s.enter(ctx, false); err != nil {
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
		close(s.closed)
		return nil, err
	}
	return s, nil
}

// Edit opens a session, runs fn and closes the session on every exit path.
// It waits for the final flush and release so a caller that exits right
// after still gives the lease back.
func Edit(ctx context.Context, backend Backend, scope domain.Scope, user string, opts Options, fn func(*Session) error) error {
	s, err := Open(ctx, backend, scope, user, opts)
	if err != nil {
		return err
	}
	defer func() { <-s.Close() }()

	return fn(s)
}

// enter runs the load then acquire sequence from Loading or ReadOnlyLocked.
func (s *Session) enter(ctx context.Context, reclaim bool) error {
	draft, err := s.backend.GetCurrent(ctx, s.scope)
	if err != nil {
		return fmt.Errorf("load script %s: %w", s.scope, err)
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.content = draft.Content
	s.wordCount = draft.WordCount
	s.dirty = false
	s.mu.Unlock()

	if !reclaim && draft.Lease != nil && draft.Lease.Holder != s.user {
		s.toReadOnly(&domain.LockedError{
			Holder:     draft.Lease.Holder,
			HolderName: draft.Lease.HolderName,
			ExpiresAt:  draft.Lease.ExpiresAt,
		})
		return nil
	}

	l, err := s.backend.AcquireLease(ctx, s.scope, s.opts.SessionID, reclaim)
	if err != nil {
		locked, ok := domain.AsLocked(err)
		if !ok {
			s.logger.Warn("lease acquire failed, opening read-only", zap.Error(err))
			locked = &domain.LockedError{}
		}
		s.toReadOnly(locked)
		return nil
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		// closed while acquiring, give the lease straight back
		go s.release()
		return ErrClosed
	}
	if s.state == Editing {
		// a concurrent Refresh got there first
		s.lease = l
		s.mu.Unlock()
		return nil
	}
	s.state = Editing
	s.lease = l
	s.locked = nil
	s.saveErr = nil
	s.scheduler = NewScheduler(s.opts.AutosaveInterval, s.autosave)
	s.scheduler.Start()
	s.mu.Unlock()

	s.logger.Info("editing", zap.Time("lease_expires_at", l.ExpiresAt))
	s.notify(Editing)
	return nil
}

func (s *Session) toReadOnly(locked *domain.LockedError) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = ReadOnlyLocked
	s.locked = locked
	s.lease = nil
	s.mu.Unlock()

	s.logger.Info("read-only", zap.String("holder", locked.Holder), zap.Bool("held_by_self", locked.HeldBySelf))
	s.notify(ReadOnlyLocked)
}

func (s *Session) notify(state State) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

// Refresh re-runs the open sequence from ReadOnlyLocked. It is a no-op
// while Editing.
func (s *Session) Refresh(ctx context.Context) error {
	return s.retry(ctx, false)
}

// Reclaim takes the lease over from another session of the same user.
// The server refuses it when the holder is a different user.
func (s *Session) Reclaim(ctx context.Context) error {
	return s.retry(ctx, true)
}

func (s *Session) retry(ctx context.Context, reclaim bool) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case Closed:
		return ErrClosed
	case Editing:
		return nil
	}
	return s.enter(ctx, reclaim)
}

// SetContent replaces the edit buffer. The next autosave tick persists it.
func (s *Session) SetContent(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Closed:
		return ErrClosed
	case Editing:
		if content != s.content {
			s.content = content
			s.dirty = true
		}
		return nil
	}
	return ErrReadOnly
}

// Commit checkpoints the current buffer. Errors are returned as is and
// never retried here: the caller decides.
func (s *Session) Commit(ctx context.Context) (*domain.Version, error) {
	s.mu.Lock()
	if s.state != Editing {
		s.mu.Unlock()
		if s.state == Closed {
			return nil, ErrClosed
		}
		return nil, ErrReadOnly
	}
	content := s.content
	s.mu.Unlock()

	v, err := s.backend.CommitVersion(ctx, s.scope, content)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", s.scope, err)
	}
	s.logger.Info("version committed", zap.Int("ordinal", v.Ordinal))
	return v, nil
}

// autosave is the scheduler tick: confirm the lease, then save the buffer.
// Nothing is written unless the confirmation succeeded, so a session whose
// lease was reclaimed or expired never overwrites the new holder.
func (s *Session) autosave(ctx context.Context) bool {
	if s.State() != Editing {
		return false
	}

	held, err := s.confirm(ctx)
	if !held {
		return false
	}
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ctx.Err() == nil {
			s.saveErr = err
		}
		return s.state == Editing
	}

	s.mu.Lock()
	if s.state != Editing {
		s.mu.Unlock()
		return false
	}
	content := s.content
	s.mu.Unlock()

	words, err := s.backend.SaveDraft(ctx, s.scope, content)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if ctx.Err() == nil {
			s.saveErr = err
			s.logger.Warn("autosave failed, retrying next tick", zap.Error(err))
		}
		return s.state == Editing
	}
	s.saveErr = nil
	s.wordCount = words
	if s.content == content {
		s.dirty = false
	}
	return s.state == Editing
}

// confirm renews the lease. held is false once the lease is gone and the
// session dropped to ReadOnlyLocked. A failed call that says nothing about
// ownership returns held with the error.
func (s *Session) confirm(ctx context.Context) (held bool, err error) {
	l, err := s.backend.RenewLease(ctx, s.scope, s.opts.SessionID)
	if locked, ok := lostLease(err); ok {
		s.logger.Warn("lease lost", zap.String("holder", locked.Holder), zap.Bool("held_by_self", locked.HeldBySelf))
		s.mu.Lock()
		editing := s.state == Editing
		if editing {
			s.state = ReadOnlyLocked
			s.locked = locked
			s.lease = nil
			s.scheduler = nil
		}
		s.mu.Unlock()
		if editing {
			s.notify(ReadOnlyLocked)
		}
		return false, err
	}
	if err != nil {
		s.logger.Warn("lease renewal failed, skipping this save", zap.Error(err))
		return true, err
	}

	s.mu.Lock()
	if s.state == Editing {
		s.lease = l
	}
	s.mu.Unlock()
	return true, nil
}

func lostLease(err error) (*domain.LockedError, bool) {
	if locked, ok := domain.AsLocked(err); ok {
		return locked, true
	}
	if errors.Is(err, domain.ErrLeaseLost) {
		return &domain.LockedError{}, true
	}
	return nil, false
}

// Close ends the session without blocking. In the background it stops the
// autosave loop, saves the final buffer if the lease is still confirmed as
// ours and releases the lease, even when the save failed. The returned
// channel is closed when that is done.
func (s *Session) Close() <-chan struct{} {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasEditing := s.state == Editing
		scheduler := s.scheduler
		content := s.content
		s.state = Closed
		s.scheduler = nil
		s.mu.Unlock()

		s.notify(Closed)

		go func() {
			defer close(s.closed)
			if scheduler != nil {
				scheduler.Stop()
			}
			if !wasEditing {
				return
			}
			if s.stillHolder() {
				s.flush(content)
			}
			s.release()
		}()
	})
	return s.closed
}

// stillHolder renews once more before the final save.
func (s *Session) stillHolder() bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FlushTimeout)
	defer cancel()
	if _, err := s.backend.RenewLease(ctx, s.scope, s.opts.SessionID); err != nil {
		s.logger.Warn("lease not confirmed, dropping final save", zap.Error(err))
		return false
	}
	return true
}

func (s *Session) flush(content string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FlushTimeout)
	defer cancel()
	if _, err := s.backend.SaveDraft(ctx, s.scope, content); err != nil {
		s.logger.Warn("final save failed", zap.Error(err))
	}
}

func (s *Session) release() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FlushTimeout)
	defer cancel()
	released, err := s.backend.ReleaseLease(ctx, s.scope, s.opts.SessionID)
	if err != nil {
		s.logger.Warn("lease release failed, it will expire on its own", zap.Error(err))
		return
	}
	s.logger.Info("closed", zap.Bool("lease_released", released))
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Holder describes who holds the script while ReadOnlyLocked. Holder is
// empty when the acquire failed for another reason or the lease expired.
func (s *Session) Holder() *domain.LockedError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked == nil {
		return nil
	}
	h := *s.locked
	return &h
}

func (s *Session) Lease() *domain.Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease == nil {
		return nil
	}
	l := *s.lease
	return &l
}

func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Dirty reports whether the buffer has changes no autosave has stored yet.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Session) WordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wordCount
}

// SaveError is the last autosave failure, cleared by the next success.
func (s *Session) SaveError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveErr
}

func (s *Session) DismissSaveError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = nil
}

func (s *Session) ID() string {
	return s.opts.SessionID
}

func (s *Session) Scope() domain.Scope {
	return s.scope
}
