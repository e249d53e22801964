package lease

import (
	"context"
	"errors"
	"fmt"
	"script-desk/internal/domain"
	"time"

	"gorm.io/gorm"
)

// GormManager keeps the lease on the draft row (ordinal 0) of
// script_entries. Acquire is one INSERT .. ON CONFLICT DO UPDATE .. WHERE
// statement, so two racing acquirers on a free script cannot both win.
type GormManager struct {
	db  *gorm.DB
	ttl time.Duration
	now Clock
}

func NewGormManager(db *gorm.DB, ttl time.Duration, clock Clock) *GormManager {
	if clock == nil {
		clock = time.Now
	}
	return &GormManager{db: db, ttl: ttl, now: clock}
}

// The conflict target must repeat the partial index predicate.
const acquireSQL = `
	INSERT INTO script_entries
		(%[1]s, ordinal, content, word_count, edited_by,
		 lease_holder, lease_holder_name, lease_session, lease_issued_at, lease_expires_at,
		 created_at, updated_at)
	VALUES (@scope_id, 0, '', 0, '', @holder, @holder_name, @session, @issued_at, @expires_at, @now, @now)
	ON CONFLICT (%[1]s, ordinal) WHERE %[1]s IS NOT NULL
	DO UPDATE SET
		lease_holder = EXCLUDED.lease_holder,
		lease_holder_name = EXCLUDED.lease_holder_name,
		lease_session = EXCLUDED.lease_session,
		lease_issued_at = EXCLUDED.lease_issued_at,
		lease_expires_at = EXCLUDED.lease_expires_at,
		updated_at = EXCLUDED.updated_at
	WHERE script_entries.lease_holder IS NULL
		OR script_entries.lease_expires_at <= @now
		OR (script_entries.lease_holder = EXCLUDED.lease_holder
			AND (script_entries.lease_session = EXCLUDED.lease_session OR CAST(@reclaim AS boolean)))
	RETURNING lease_holder, lease_holder_name, lease_session, lease_issued_at, lease_expires_at`

const renewSQL = `
	UPDATE script_entries SET
		lease_holder_name = @holder_name,
		lease_issued_at = @issued_at,
		lease_expires_at = @expires_at,
		updated_at = @now
	WHERE %s = @scope_id AND ordinal = 0
		AND lease_holder = @holder
		AND lease_session = @session
		AND lease_expires_at > @now
	RETURNING lease_holder, lease_holder_name, lease_session, lease_issued_at, lease_expires_at`

const releaseSQL = `
	UPDATE script_entries SET
		lease_holder = NULL,
		lease_holder_name = NULL,
		lease_session = NULL,
		lease_issued_at = NULL,
		lease_expires_at = NULL,
		updated_at = @now
	WHERE %s = @scope_id AND ordinal = 0
		AND lease_holder = @holder
		AND lease_session = @session
		AND lease_expires_at > @now`

func (m *GormManager) Acquire(ctx context.Context, scope domain.Scope, claim Claim) (domain.Lease, error) {
	if err := validateClaim(scope, claim); err != nil {
		return domain.Lease{}, err
	}
	if claim.Renew {
		return m.renew(ctx, scope, claim)
	}

	for range acquireAttempts {
		now := m.now()
		want := domain.NewLease(claim.User, claim.UserName, claim.Session, now, m.ttl)

		var granted []domain.ScriptEntry
		err := m.db.WithContext(ctx).
			Raw(fmt.Sprintf(acquireSQL, scope.Column()), map[string]interface{}{
				"scope_id":    scope.ID(),
				"holder":      want.Holder,
				"holder_name": want.HolderName,
				"session":     want.Session,
				"issued_at":   want.IssuedAt,
				"expires_at":  want.ExpiresAt,
				"now":         now,
				"reclaim":     claim.Reclaim,
			}).
			Scan(&granted).Error
		if err != nil {
			return domain.Lease{}, fmt.Errorf("acquire lease %s: %w", scope, err)
		}
		if len(granted) == 1 {
			if l := granted[0].Lease(); l != nil {
				return *l, nil
			}
			return want, nil
		}

		current, err := m.Status(ctx, scope)
		if err != nil {
			return domain.Lease{}, err
		}
		if current != nil {
			return domain.Lease{}, lockedBy(*current, claim)
		}
	}
	return domain.Lease{}, ErrContention
}

// renew extends the lease only while this session still holds it.
func (m *GormManager) renew(ctx context.Context, scope domain.Scope, claim Claim) (domain.Lease, error) {
	now := m.now()
	want := domain.NewLease(claim.User, claim.UserName, claim.Session, now, m.ttl)

	var renewed []domain.ScriptEntry
	err := m.db.WithContext(ctx).
		Raw(fmt.Sprintf(renewSQL, scope.Column()), map[string]interface{}{
			"scope_id":    scope.ID(),
			"holder":      want.Holder,
			"holder_name": want.HolderName,
			"session":     want.Session,
			"issued_at":   want.IssuedAt,
			"expires_at":  want.ExpiresAt,
			"now":         now,
		}).
		Scan(&renewed).Error
	if err != nil {
		return domain.Lease{}, fmt.Errorf("renew lease %s: %w", scope, err)
	}
	if len(renewed) == 1 {
		if l := renewed[0].Lease(); l != nil {
			return *l, nil
		}
		return want, nil
	}

	current, err := m.Status(ctx, scope)
	if err != nil {
		return domain.Lease{}, err
	}
	if current != nil {
		return domain.Lease{}, lockedBy(*current, claim)
	}
	return domain.Lease{}, domain.ErrLeaseLost
}

func (m *GormManager) Release(ctx context.Context, scope domain.Scope, user, session string) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	result := m.db.WithContext(ctx).
		Exec(fmt.Sprintf(releaseSQL, scope.Column()), map[string]interface{}{
			"scope_id": scope.ID(),
			"holder":   user,
			"session":  session,
			"now":      m.now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("release lease %s: %w", scope, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (m *GormManager) Status(ctx context.Context, scope domain.Scope) (*domain.Lease, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var entry domain.ScriptEntry
	err := m.db.WithContext(ctx).
		Select("lease_holder", "lease_holder_name", "lease_session", "lease_issued_at", "lease_expires_at").
		Where(scope.Column()+" = ? AND ordinal = ?", scope.ID(), domain.DraftOrdinal).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lease %s: %w", scope, err)
	}
	return domain.ActiveLease(entry.Lease(), m.now()), nil
}
