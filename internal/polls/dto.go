package polls

import "time"

// CreatePollRequest is the JSON body for creating a poll.
type CreatePollRequest struct {
	Title        string     `json:"title" validate:"required,max=200"`
	Description  *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	PollType     string     `json:"poll_type" validate:"required,oneof=single multiple"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	IsAnonymous  bool       `json:"is_anonymous"`
	RequiresAuth *bool      `json:"requires_auth,omitempty"`
}

// UpdatePollRequest is the JSON body for updating a poll. Absent fields keep
// their current values.
type UpdatePollRequest struct {
	Title        *string    `json:"title,omitempty" validate:"omitempty,max=200"`
	Description  *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	PollType     *string    `json:"poll_type,omitempty" validate:"omitempty,oneof=single multiple"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	IsAnonymous  *bool      `json:"is_anonymous,omitempty"`
	RequiresAuth *bool      `json:"requires_auth,omitempty"`
}

// SetStatusRequest transitions a poll's lifecycle status.
type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft active closed expired archived"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}
