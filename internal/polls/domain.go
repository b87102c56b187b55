package polls

import (
	"time"

	"github.com/google/uuid"
)

// Poll types.
const (
	TypeSingle   = "single"
	TypeMultiple = "multiple"
)

// Poll lifecycle statuses.
const (
	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusClosed   = "closed"
	StatusExpired  = "expired"
	StatusArchived = "archived"
)

// Poll is a question owned by a user, with an optional scheduling window.
type Poll struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	PollType     string     `json:"poll_type"`
	Status       string     `json:"status"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	IsAnonymous  bool       `json:"is_anonymous"`
	RequiresAuth bool       `json:"requires_auth"`
	CreatedBy    int64      `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ValidType reports whether t is a known poll type.
func ValidType(t string) bool {
	switch t {
	case TypeSingle, TypeMultiple:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known poll status.
func ValidStatus(s string) bool {
	switch s {
	case StatusDraft, StatusActive, StatusClosed, StatusExpired, StatusArchived:
		return true
	}
	return false
}
