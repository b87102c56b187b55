package auth

// RegisterRequest is the JSON body accepted by POST /auth/register.
type RegisterRequest struct {
	Username        string  `json:"username" validate:"required,max=150"`
	Email           string  `json:"email" validate:"required,email"`
	FirstName       string  `json:"first_name" validate:"omitempty,max=150"`
	LastName        string  `json:"last_name" validate:"omitempty,max=150"`
	Password        string  `json:"password" validate:"required"`
	PasswordConfirm *string `json:"password_confirm,omitempty"`
}

// LoginRequest is the JSON body accepted by POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the JSON body accepted by POST /auth/refresh.
type RefreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}
