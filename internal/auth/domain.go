package auth

import "time"

// User types mirror the user_type column values.
const (
	UserTypeAdmin     = "admin"
	UserTypeModerator = "moderator"
	UserTypeUser      = "user"
)

// User represents an account with login security state.
type User struct {
	ID                  int64
	Email               string
	Username            string
	FirstName           string
	LastName            string
	UserType            string
	IsSuperuser         bool
	PasswordHash        string
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsAdmin reports whether the user has administrator standing.
func (u *User) IsAdmin() bool {
	return u.UserType == UserTypeAdmin || u.IsSuperuser
}

// IsModerator reports whether the user has at least moderator standing.
func (u *User) IsModerator() bool {
	return u.UserType == UserTypeAdmin || u.UserType == UserTypeModerator || u.IsSuperuser
}

// LockedAt reports whether the account is locked at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}
