package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ScopeType names the kind of entity a script belongs to.
type ScopeType string

const (
	ScopeStory ScopeType = "story"
	ScopePiece ScopeType = "piece"
)

var ErrInvalidScope = errors.New("scope must reference exactly one of story or piece")

// Scope identifies the owner of a script. Exactly one of StoryID or PieceID is set.
type Scope struct {
	StoryID *uint64 `json:"story_id,omitempty"`
	PieceID *uint64 `json:"piece_id,omitempty"`
}

func StoryScope(id uint64) Scope {
	return Scope{StoryID: &id}
}

func PieceScope(id uint64) Scope {
	return Scope{PieceID: &id}
}

// NewScope builds a scope from a type name and id as they arrive from a route.
func NewScope(scopeType ScopeType, id uint64) (Scope, error) {
	if id == 0 {
		return Scope{}, ErrInvalidScope
	}
	switch scopeType {
	case ScopeStory:
		return StoryScope(id), nil
	case ScopePiece:
		return PieceScope(id), nil
	}
	return Scope{}, fmt.Errorf("unknown scope type %q: %w", scopeType, ErrInvalidScope)
}

func (s Scope) Validate() error {
	if (s.StoryID == nil) == (s.PieceID == nil) {
		return ErrInvalidScope
	}
	if s.ID() == 0 {
		return ErrInvalidScope
	}
	return nil
}

func (s Scope) Type() ScopeType {
	if s.StoryID != nil {
		return ScopeStory
	}
	return ScopePiece
}

func (s Scope) ID() uint64 {
	if s.StoryID != nil {
		return *s.StoryID
	}
	if s.PieceID != nil {
		return *s.PieceID
	}
	return 0
}

// Column is the foreign key column holding this scope in script_entries.
func (s Scope) Column() string {
	if s.StoryID != nil {
		return "story_id"
	}
	return "piece_id"
}

// Key is a stable string form used for cache and lease keys, e.g. "story:42".
func (s Scope) Key() string {
	return string(s.Type()) + ":" + strconv.FormatUint(s.ID(), 10)
}

func (s Scope) String() string {
	return s.Key()
}
