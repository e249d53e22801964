package script

import (
	"context"
	"errors"
	"fmt"
	"script-desk/internal/domain"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type Repository interface {
	// ScopeExists reports whether the owning story or piece exists.
	ScopeExists(ctx context.Context, scope domain.Scope) (bool, error)
	// GetDraft returns the ordinal 0 entry, or nil when nothing was saved yet.
	GetDraft(ctx context.Context, scope domain.Scope) (*domain.ScriptEntry, error)
	SaveDraft(ctx context.Context, scope domain.Scope, content, editor string, at time.Time) (int, error)
	// CommitVersion inserts max(ordinal)+1. A lost race returns domain.ErrOrdinalTaken.
	CommitVersion(ctx context.Context, scope domain.Scope, content, editor string, at time.Time) (*domain.Version, error)
	ListVersions(ctx context.Context, scope domain.Scope) ([]domain.Version, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) ScopeExists(ctx context.Context, scope domain.Scope) (bool, error) {
	var model any = &domain.Story{}
	if scope.Type() == domain.ScopePiece {
		model = &domain.Piece{}
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(model).
		Where("id = ?", scope.ID()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("look up %s: %w", scope, err)
	}
	return count > 0, nil
}

func (r *RepositoryImpl) GetDraft(ctx context.Context, scope domain.Scope) (*domain.ScriptEntry, error) {
	var entry domain.ScriptEntry
	err := r.db.WithContext(ctx).
		Where(scope.Column()+" = ? AND ordinal = ?", scope.ID(), domain.DraftOrdinal).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read draft %s: %w", scope, err)
	}
	return &entry, nil
}

// The lease columns are left alone: only the lease manager writes them.
const saveDraftSQL = `
	INSERT INTO script_entries
		(%[1]s, ordinal, content, word_count, edited_by, edited_at, created_at, updated_at)
	VALUES (@scope_id, 0, @content, @word_count, @editor, @at, @at, @at)
	ON CONFLICT (%[1]s, ordinal) WHERE %[1]s IS NOT NULL
	DO UPDATE SET
		content = EXCLUDED.content,
		word_count = EXCLUDED.word_count,
		edited_by = EXCLUDED.edited_by,
		edited_at = EXCLUDED.edited_at,
		updated_at = EXCLUDED.updated_at`

func (r *RepositoryImpl) SaveDraft(ctx context.Context, scope domain.Scope, content, editor string, at time.Time) (int, error) {
	words := WordCount(content)
	err := r.db.WithContext(ctx).
		Exec(fmt.Sprintf(saveDraftSQL, scope.Column()), map[string]interface{}{
			"scope_id":   scope.ID(),
			"content":    content,
			"word_count": words,
			"editor":     editor,
			"at":         at,
		}).Error
	if err != nil {
		return 0, fmt.Errorf("save draft %s: %w", scope, err)
	}
	return words, nil
}

func (r *RepositoryImpl) CommitVersion(ctx context.Context, scope domain.Scope, content, editor string, at time.Time) (*domain.Version, error) {
	var entry domain.ScriptEntry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxOrdinal int
		if err := tx.Model(&domain.ScriptEntry{}).
			Where(scope.Column()+" = ?", scope.ID()).
			Select("COALESCE(MAX(ordinal), 0)").
			Scan(&maxOrdinal).Error; err != nil {
			return err
		}

		entry = domain.ScriptEntry{
			StoryID:   scope.StoryID,
			PieceID:   scope.PieceID,
			Ordinal:   maxOrdinal + 1,
			Content:   content,
			WordCount: WordCount(content),
			EditedBy:  editor,
			EditedAt:  &at,
		}
		return tx.Create(&entry).Error
	})
	if isUniqueViolation(err) {
		return nil, domain.ErrOrdinalTaken
	}
	if err != nil {
		return nil, fmt.Errorf("commit version %s: %w", scope, err)
	}

	v := entry.ToVersion()
	return &v, nil
}

func (r *RepositoryImpl) ListVersions(ctx context.Context, scope domain.Scope) ([]domain.Version, error) {
	var entries []domain.ScriptEntry
	err := r.db.WithContext(ctx).
		Where(scope.Column()+" = ? AND ordinal > ?", scope.ID(), domain.DraftOrdinal).
		Order("ordinal ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list versions %s: %w", scope, err)
	}

	versions := make([]domain.Version, 0, len(entries))
	for i := range entries {
		versions = append(versions, entries[i].ToVersion())
	}
	return versions, nil
}

// isUniqueViolation covers both the translated gorm error and a raw
// Postgres 23505 in case translation is off.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
