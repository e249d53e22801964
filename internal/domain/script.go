package domain

import "time"

// DraftOrdinal is the reserved ordinal of the mutable working copy.
// Checkpoints start at 1.
const DraftOrdinal = 0

// ScriptEntry is one row of script_entries: either the draft of a scope
// (ordinal 0, carries the lease columns) or an immutable checkpoint.
type ScriptEntry struct {
	ID      uint64
	StoryID *uint64 `gorm:"index:idx_script_story_ordinal,unique,where:story_id IS NOT NULL;check:chk_script_entries_scope,(story_id IS NULL) <> (piece_id IS NULL)"`
	Story   *Story  `gorm:"constraint:OnDelete:CASCADE"`
	PieceID *uint64 `gorm:"index:idx_script_piece_ordinal,unique,where:piece_id IS NOT NULL"`
	Piece   *Piece  `gorm:"constraint:OnDelete:CASCADE"`
	Ordinal int     `gorm:"not null;index:idx_script_story_ordinal,unique,where:story_id IS NOT NULL;index:idx_script_piece_ordinal,unique,where:piece_id IS NOT NULL"`

	Content   string `gorm:"type:text;not null;default:''"`
	WordCount int    `gorm:"not null;default:0"`
	EditedBy  string
	EditedAt  *time.Time

	LeaseHolder     *string
	LeaseHolderName *string
	LeaseSession    *string
	LeaseIssuedAt   *time.Time
	LeaseExpiresAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *ScriptEntry) Scope() Scope {
	return Scope{StoryID: e.StoryID, PieceID: e.PieceID}
}

func (e *ScriptEntry) IsDraft() bool {
	return e.Ordinal == DraftOrdinal
}

// Lease returns the stored lease, valid or not. Callers decide validity.
func (e *ScriptEntry) Lease() *Lease {
	if e.LeaseHolder == nil || e.LeaseExpiresAt == nil {
		return nil
	}
	l := Lease{
		Holder:    *e.LeaseHolder,
		ExpiresAt: *e.LeaseExpiresAt,
	}
	if e.LeaseHolderName != nil {
		l.HolderName = *e.LeaseHolderName
	}
	if e.LeaseSession != nil {
		l.Session = *e.LeaseSession
	}
	if e.LeaseIssuedAt != nil {
		l.IssuedAt = *e.LeaseIssuedAt
	}
	return &l
}

// Draft is the current working copy of a script as readers see it.
type Draft struct {
	Scope     Scope      `json:"scope"`
	Content   string     `json:"content"`
	WordCount int        `json:"word_count"`
	EditedBy  string     `json:"edited_by,omitempty"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	Lease     *Lease     `json:"lease"`
}

// EmptyDraft is what a scope reads as before its first save.
func EmptyDraft(scope Scope) Draft {
	return Draft{Scope: scope}
}

func (e *ScriptEntry) ToDraft() Draft {
	return Draft{
		Scope:     e.Scope(),
		Content:   e.Content,
		WordCount: e.WordCount,
		EditedBy:  e.EditedBy,
		EditedAt:  e.EditedAt,
	}
}

// Version is an immutable numbered checkpoint.
type Version struct {
	Scope     Scope     `json:"scope"`
	Ordinal   int       `json:"ordinal"`
	Content   string    `json:"content"`
	WordCount int       `json:"word_count"`
	EditedBy  string    `json:"edited_by"`
	EditedAt  time.Time `json:"edited_at"`
}

func (e *ScriptEntry) ToVersion() Version {
	v := Version{
		Scope:     e.Scope(),
		Ordinal:   e.Ordinal,
		Content:   e.Content,
		WordCount: e.WordCount,
		EditedBy:  e.EditedBy,
	}
	if e.EditedAt != nil {
		v.EditedAt = *e.EditedAt
	}
	return v
}
