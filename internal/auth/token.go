package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const refreshTokenUse = "refresh"

// Token errors surfaced by the issuer.
var (
	ErrTokenInvalid = errors.New("auth: token invalid")
	ErrTokenExpired = errors.New("auth: token expired")
)

// Claims is the fixed claim set embedded in access tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID      int64      `json:"user_id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	UserType    string     `json:"user_type"`
	Permissions []string   `json:"permissions"`
	Roles       []string   `json:"roles"`
	LastLogin   *time.Time `json:"last_login"`
	IsAdmin     bool       `json:"is_admin"`
	IsModerator bool       `json:"is_moderator"`
	TokenUse    string     `json:"token_use,omitempty"`
}

// TokenPair bundles an access token with its refresh token.
type TokenPair struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
}

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(secret []byte, issuer string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     secret,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// IssueAccess signs an access token carrying the given claims.
func (t *TokenIssuer) IssueAccess(claims *Claims) (string, error) {
	now := t.now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   strconv.FormatInt(claims.UserID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
	}
	return t.sign(claims)
}

// IssueRefresh signs a refresh token for the given user id. Refresh tokens
// carry no authorization claims; those are re-derived on exchange.
func (t *TokenIssuer) IssueRefresh(userID int64) (string, error) {
	now := t.now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.refreshTTL)),
		},
		UserID:   userID,
		TokenUse: refreshTokenUse,
	}
	return t.sign(claims)
}

func (t *TokenIssuer) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token string and returns its claims.
func (t *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithTimeFunc(func() time.Time { return t.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token and returns the subject user id.
func (t *TokenIssuer) ParseRefresh(tokenString string) (int64, error) {
	claims, err := t.Parse(tokenString)
	if err != nil {
		return 0, err
	}
	if claims.TokenUse != refreshTokenUse {
		return 0, ErrTokenInvalid
	}
	return claims.UserID, nil
}
