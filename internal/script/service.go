package script

import (
	"context"
	defError "errors"
	"fmt"
	"script-desk/internal/domain"
	"script-desk/internal/errors"
	"script-desk/internal/lease"
	"script-desk/internal/metrics"
	"script-desk/internal/worker"
	"script-desk/redis"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Service interface {
	GetCurrent(ctx context.Context, scope domain.Scope) (*domain.Draft, error)
	AcquireLease(ctx context.Context, scope domain.Scope, claim lease.Claim) (*domain.Lease, error)
	ReleaseLease(ctx context.Context, scope domain.Scope, user, session string) (bool, error)
	SaveDraft(ctx context.Context, scope domain.Scope, content, editor string) (int, error)
	CommitVersion(ctx context.Context, scope domain.Scope, content, editor string) (*domain.Version, error)
	ListVersions(ctx context.Context, scope domain.Scope) ([]domain.Version, error)
}

type Options struct {
	CommitMaxAttempts int
	VersionCacheTTL   time.Duration
	Clock             lease.Clock
}

type DefaultService struct {
	repository Repository
	leases     lease.Manager
	cache      *redis.Cache
	pool       *worker.WorkerPool
	metrics    *metrics.Metrics
	logger     *zap.Logger

	commitMaxAttempts int
	versionCacheTTL   time.Duration
	now               lease.Clock

	// staleLists holds scope keys whose list generation bump failed after a
	// commit. Their cached lists are bypassed until a bump succeeds.
	staleMu    sync.Mutex
	staleLists map[string]struct{}
}

func NewService(
	repository Repository,
	leases lease.Manager,
	cache *redis.Cache,
	pool *worker.WorkerPool,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
) Service {
	if opts.CommitMaxAttempts < 1 {
		opts.CommitMaxAttempts = 3
	}
	if opts.VersionCacheTTL <= 0 {
		opts.VersionCacheTTL = 10 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &DefaultService{
		repository:        repository,
		leases:            leases,
		cache:             cache,
		pool:              pool,
		metrics:           m,
		logger:            logger,
		commitMaxAttempts: opts.CommitMaxAttempts,
		versionCacheTTL:   opts.VersionCacheTTL,
		now:               opts.Clock,
		staleLists:        make(map[string]struct{}),
	}
}

// LockedDetails is the body detail of a 423 response.
type LockedDetails struct {
	Holder     string    `json:"holder"`
	HolderName string    `json:"holder_name"`
	HeldBySelf bool      `json:"held_by_self"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s *DefaultService) resolve(ctx context.Context, scope domain.Scope) error {
	if err := scope.Validate(); err != nil {
		return errors.BadRequest("Invalid script scope", err)
	}
	ok, err := s.repository.ScopeExists(ctx, scope)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound(fmt.Sprintf("%s %d not found", scope.Type(), scope.ID()), domain.ErrNotFound)
	}
	return nil
}

func (s *DefaultService) GetCurrent(ctx context.Context, scope domain.Scope) (*domain.Draft, error) {
	if err := s.resolve(ctx, scope); err != nil {
		return nil, err
	}

	entry, err := s.repository.GetDraft(ctx, scope)
	if err != nil {
		return nil, err
	}
	draft := domain.EmptyDraft(scope)
	if entry != nil {
		draft = entry.ToDraft()
	}

	draft.Lease, err = s.leases.Status(ctx, scope)
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (s *DefaultService) AcquireLease(ctx context.Context, scope domain.Scope, claim lease.Claim) (*domain.Lease, error) {
	if err := s.resolve(ctx, scope); err != nil {
		return nil, err
	}

	l, err := s.leases.Acquire(ctx, scope, claim)
	if locked, ok := domain.AsLocked(err); ok {
		s.metrics.LeaseAcquireTotal.WithLabelValues("locked").Inc()
		return nil, errors.Locked(locked.Error(), locked).WithDetails(LockedDetails{
			Holder:     locked.Holder,
			HolderName: locked.HolderName,
			HeldBySelf: locked.HeldBySelf,
			ExpiresAt:  locked.ExpiresAt,
		})
	}
	if defError.Is(err, domain.ErrLeaseLost) {
		s.metrics.LeaseAcquireTotal.WithLabelValues("lost").Inc()
		return nil, errors.LeaseLost("Lease expired or was released, open the script again", err)
	}
	if err != nil {
		s.metrics.LeaseAcquireTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	s.metrics.LeaseAcquireTotal.WithLabelValues("granted").Inc()
	s.logger.Debug("lease granted",
		zap.Stringer("scope", scope),
		zap.String("holder", l.Holder),
		zap.Bool("reclaim", claim.Reclaim),
		zap.Bool("renew", claim.Renew),
		zap.Time("expires_at", l.ExpiresAt))
	return &l, nil
}

// ReleaseLease never fails for a caller that is not the holder; it reports
// false instead.
func (s *DefaultService) ReleaseLease(ctx context.Context, scope domain.Scope, user, session string) (bool, error) {
	if err := s.resolve(ctx, scope); err != nil {
		return false, err
	}

	released, err := s.leases.Release(ctx, scope, user, session)
	if err != nil {
		s.metrics.LeaseReleaseTotal.WithLabelValues("error").Inc()
		return false, err
	}
	if released {
		s.metrics.LeaseReleaseTotal.WithLabelValues("released").Inc()
	} else {
		s.metrics.LeaseReleaseTotal.WithLabelValues("noop").Inc()
	}
	return released, nil
}

func (s *DefaultService) SaveDraft(ctx context.Context, scope domain.Scope, content, editor string) (int, error) {
	if err := s.resolve(ctx, scope); err != nil {
		return 0, err
	}

	words, err := s.repository.SaveDraft(ctx, scope, content, editor, s.now().UTC())
	if err != nil {
		s.metrics.DraftSavesTotal.WithLabelValues("error").Inc()
		return 0, err
	}
	s.metrics.DraftSavesTotal.WithLabelValues("saved").Inc()
	return words, nil
}

func (s *DefaultService) CommitVersion(ctx context.Context, scope domain.Scope, content, editor string) (*domain.Version, error) {
	if err := s.resolve(ctx, scope); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.commitMaxAttempts; attempt++ {
		v, err := s.repository.CommitVersion(ctx, scope, content, editor, s.now().UTC())
		if defError.Is(err, domain.ErrOrdinalTaken) {
			s.metrics.CommitRetriesTotal.Inc()
			s.logger.Info("version ordinal taken, retrying",
				zap.Stringer("scope", scope),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			s.metrics.CommitsTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		s.metrics.CommitsTotal.WithLabelValues("committed").Inc()
		if err := s.cache.IncrementVersion(ctx, versionsVersionKey(scope)); err != nil {
			s.logger.Warn("failed to invalidate version list cache",
				zap.Stringer("scope", scope),
				zap.Error(err))
			s.markListStale(scope)
		}
		return v, nil
	}

	s.metrics.CommitsTotal.WithLabelValues("conflict").Inc()
	return nil, errors.CommitConflict("Another version was committed at the same time, try again", domain.ErrCommitConflict)
}

func (s *DefaultService) ListVersions(ctx context.Context, scope domain.Scope) ([]domain.Version, error) {
	if err := s.resolve(ctx, scope); err != nil {
		return nil, err
	}

	if !s.settleStaleList(ctx, scope) {
		s.metrics.VersionCacheTotal.WithLabelValues("bypass").Inc()
		return s.repository.ListVersions(ctx, scope)
	}

	// Get the current list generation for this scope
	v := s.cache.GetVersion(ctx, versionsVersionKey(scope))
	cacheKey := fmt.Sprintf("script:%s:versions:v:%d", scope.Key(), v)

	var versions []domain.Version
	found, err := s.cache.Get(ctx, cacheKey, &versions)
	if err != nil {
		s.logger.Warn("version list cache read failed", zap.String("key", cacheKey), zap.Error(err))
	}
	if found {
		s.metrics.VersionCacheTotal.WithLabelValues("hit").Inc()
		return versions, nil
	}
	s.metrics.VersionCacheTotal.WithLabelValues("miss").Inc()

	versions, err = s.repository.ListVersions(ctx, scope)
	if err != nil {
		return nil, err
	}
	s.fillCache(cacheKey, versions)
	return versions, nil
}

func (s *DefaultService) markListStale(scope domain.Scope) {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	s.staleLists[scope.Key()] = struct{}{}
}

// settleStaleList retries a failed generation bump. It reports false while
// the cached list for scope cannot be trusted.
func (s *DefaultService) settleStaleList(ctx context.Context, scope domain.Scope) bool {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	if _, ok := s.staleLists[scope.Key()]; !ok {
		return true
	}
	if err := s.cache.IncrementVersion(ctx, versionsVersionKey(scope)); err != nil {
		return false
	}
	delete(s.staleLists, scope.Key())
	return true
}

// fillCache writes the list in the background so requests never wait on Redis.
func (s *DefaultService) fillCache(key string, versions []domain.Version) {
	if s.cache == nil {
		return
	}
	task := func(ctx context.Context) error {
		return s.cache.Set(ctx, key, versions, s.versionCacheTTL)
	}
	if s.pool == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := task(ctx); err != nil {
			s.logger.Warn("version list cache fill failed", zap.Error(err))
		}
		return
	}
	s.pool.Submit(task)
}

func versionsVersionKey(scope domain.Scope) string {
	return fmt.Sprintf("script:%s:versions:version", scope.Key())
}
