package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxpoll/voxpoll/internal/observability"
	"github.com/voxpoll/voxpoll/internal/shared"
)

const (
	maxFailedAttempts = 5
	lockoutDuration   = 30 * time.Minute
	defaultRoleName   = "Regular User"
)

// ClaimsSource resolves the authorization claims embedded in access tokens.
// Implemented by the rbac service; every call is a fresh lookup.
type ClaimsSource interface {
	ActiveRolePermissionCodenames(ctx context.Context, userID int64) ([]string, error)
	ActiveRoleNames(ctx context.Context, userID int64) ([]string, error)
}

// RegisterInput carries candidate registration data.
type RegisterInput struct {
	Username        string
	Email           string
	FirstName       string
	LastName        string
	UserType        string
	Password        string
	PasswordConfirm *string
}

// RegisteredUser is the public projection returned after registration.
type RegisteredUser struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	UserType string `json:"user_type"`
}

// Service wraps registration and the login/lockout state machine.
type Service struct {
	repo    Repository
	claims  ClaimsSource
	tokens  *TokenIssuer
	policy  PasswordPolicy
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, claims ClaimsSource, tokens *TokenIssuer, policy PasswordPolicy, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		repo:    repo,
		claims:  claims,
		tokens:  tokens,
		policy:  policy,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Register validates the candidate, creates the user, and assigns the default
// role inside one transaction. Role assignment is best effort: a missing
// "Regular User" role logs a warning and registration still succeeds.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*RegisteredUser, error) {
	fields := make(map[string]string)

	if exists, err := s.repo.EmailExists(ctx, input.Email); err != nil {
		return nil, fmt.Errorf("auth: check email: %w", err)
	} else if exists {
		fields["email"] = "a user with this email already exists"
	}
	if exists, err := s.repo.UsernameExists(ctx, input.Username); err != nil {
		return nil, fmt.Errorf("auth: check username: %w", err)
	} else if exists {
		fields["username"] = "a user with this username already exists"
	}
	if input.PasswordConfirm != nil && input.Password != *input.PasswordConfirm {
		fields["password_confirm"] = "password fields didn't match"
	}
	if messages := s.policy.Validate(input.Password); len(messages) > 0 {
		detail := messages[0]
		for _, m := range messages[1:] {
			detail += "; " + m
		}
		fields["password"] = detail
	}
	if len(fields) > 0 {
		return nil, &shared.ValidationError{Fields: fields}
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	userType := input.UserType
	if userType == "" {
		userType = UserTypeUser
	}

	var created *User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.CreateUser(ctx, CreateUserParams{
			Email:        input.Email,
			Username:     input.Username,
			FirstName:    input.FirstName,
			LastName:     input.LastName,
			UserType:     userType,
			PasswordHash: hash,
		})
		if err != nil {
			return err
		}
		created = user

		roleID, err := tx.FindRoleByName(ctx, defaultRoleName)
		if err != nil {
			s.logger.Warn("default role not found, skipping assignment",
				slog.String("role", defaultRoleName), slog.String("username", user.Username))
			return nil
		}
		if err := tx.AssignRole(ctx, user.ID, roleID); err != nil {
			s.logger.Warn("assign default role", slog.Any("error", err), slog.String("username", user.Username))
			return nil
		}
		s.logger.Info("assigned default role", slog.String("role", defaultRoleName), slog.String("username", user.Username))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &RegisteredUser{
		UserID:   created.ID,
		Username: created.Username,
		Email:    created.Email,
		UserType: created.UserType,
	}, nil
}

// Login runs the lockout state machine for one attempt and, on success,
// issues a token pair. The user row is read under an exclusive lock for the
// whole check-and-update sequence.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	var user *User
	var loginErr error
	// Authentication failures are reported through loginErr, not the fn
	// error: the transaction must still commit so the incremented counter
	// and any new lock survive the failed attempt.
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()

		u, err := tx.FindByEmailForUpdate(ctx, email)
		if err != nil {
			// Indistinguishable from a wrong password; no account enumeration.
			loginErr = shared.ErrInvalidCredentials
			return nil
		}

		if u.LockedAt(now) {
			remaining := u.LockedUntil.Sub(now)
			loginErr = &shared.LockedError{RemainingMinutes: ceilMinutes(remaining)}
			return nil
		}
		if u.LockedUntil != nil {
			// Lock expired: lazy unlock before verifying anything.
			if err := tx.ClearLock(ctx, u.ID); err != nil {
				return err
			}
			u.FailedLoginAttempts = 0
			u.LockedUntil = nil
		}

		if !CheckPassword(u.PasswordHash, password) {
			attempts, err := tx.IncrementFailedAttempts(ctx, u.ID)
			if err != nil {
				return err
			}
			if attempts >= maxFailedAttempts {
				until := now.Add(lockoutDuration)
				if err := tx.SetLock(ctx, u.ID, until); err != nil {
					return err
				}
				s.logger.Warn("account locked after repeated failures",
					slog.Int64("user_id", u.ID), slog.Int("attempts", attempts), slog.Time("until", until))
				s.metrics.ObserveLockout()
				loginErr = &shared.LockedError{JustLocked: true, RemainingMinutes: ceilMinutes(lockoutDuration)}
				return nil
			}
			loginErr = shared.ErrInvalidCredentials
			return nil
		}

		if u.FailedLoginAttempts > 0 {
			if err := tx.ClearLock(ctx, u.ID); err != nil {
				return err
			}
		}
		if err := tx.UpdateLastLogin(ctx, u.ID, now); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if loginErr != nil {
		s.observeFailure(loginErr)
		return nil, loginErr
	}

	s.metrics.ObserveLogin("success")
	return s.issueTokens(ctx, user)
}

// Refresh exchanges a valid refresh token for a fresh token pair. Claims are
// re-derived from current database state, not copied from the old token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return s.issueTokens(ctx, user)
}

func (s *Service) issueTokens(ctx context.Context, user *User) (*TokenPair, error) {
	claims := s.buildClaims(ctx, user)
	access, err := s.tokens.IssueAccess(claims)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// buildClaims assembles authorization claims. Each enrichment degrades
// independently to an empty list on failure; a successful login is never
// blocked by a claims lookup going wrong.
func (s *Service) buildClaims(ctx context.Context, user *User) *Claims {
	claims := &Claims{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		UserType:    user.UserType,
		Permissions: []string{},
		Roles:       []string{},
		LastLogin:   user.LastLogin,
		IsAdmin:     user.IsAdmin(),
		IsModerator: user.IsModerator(),
	}
	if s.claims == nil {
		s.logger.Error("claims source not configured, issuing default claims", slog.Int64("user_id", user.ID))
		return claims
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		perms, err := s.claims.ActiveRolePermissionCodenames(gctx, user.ID)
		if err != nil {
			s.logger.Warn("assemble permission claims", slog.Any("error", err), slog.Int64("user_id", user.ID))
			return nil
		}
		claims.Permissions = perms
		return nil
	})
	g.Go(func() error {
		roles, err := s.claims.ActiveRoleNames(gctx, user.ID)
		if err != nil {
			s.logger.Warn("assemble role claims", slog.Any("error", err), slog.Int64("user_id", user.ID))
			return nil
		}
		claims.Roles = roles
		return nil
	})
	_ = g.Wait()

	if claims.Permissions == nil {
		claims.Permissions = []string{}
	}
	if claims.Roles == nil {
		claims.Roles = []string{}
	}
	return claims
}

func (s *Service) observeFailure(err error) {
	var locked *shared.LockedError
	if errors.As(err, &locked) {
		s.metrics.ObserveLogin("locked")
		return
	}
	s.metrics.ObserveLogin("invalid")
}

func ceilMinutes(d time.Duration) int {
	minutes := int(d / time.Minute)
	if d%time.Minute != 0 {
		minutes++
	}
	return minutes
}
