package shared

import "context"

// Identity describes the authenticated actor as carried by a verified token.
type Identity struct {
	UserID      int64
	Username    string
	Email       string
	UserType    string
	IsAdmin     bool
	IsModerator bool
	Permissions []string
	Roles       []string
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}
