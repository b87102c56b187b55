package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxpoll/voxpoll/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	users     map[int64]*User
	nextID    int64
	roles     map[string]int64
	userRoles map[int64][]int64
	roleErr   error
	assignErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:     make(map[int64]*User),
		roles:     map[string]int64{"Regular User": 1},
		userRoles: make(map[int64][]int64),
	}
}

func (r *memoryRepo) addUser(u User) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	u.ID = r.nextID
	r.users[u.ID] = &u
	return &u
}

func (r *memoryRepo) snapshot() map[int64]*User {
	out := make(map[int64]*User, len(r.users))
	for id, u := range r.users {
		copied := *u
		out[id] = &copied
	}
	return out
}

// WithTx serializes callers on the repo mutex, mirroring the row lock, and
// restores the previous state when fn fails, mirroring a rollback.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.snapshot()
	beforeRoles := make(map[int64][]int64, len(r.userRoles))
	for id, roles := range r.userRoles {
		beforeRoles[id] = append([]int64(nil), roles...)
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.users = before
		r.userRoles = beforeRoles
		return err
	}
	return nil
}

func (r *memoryRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *memoryRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) FindByEmailForUpdate(ctx context.Context, email string) (*User, error) {
	for _, u := range t.repo.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (t *memoryTx) IncrementFailedAttempts(ctx context.Context, userID int64) (int, error) {
	u, ok := t.repo.users[userID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	u.FailedLoginAttempts++
	return u.FailedLoginAttempts, nil
}

func (t *memoryTx) SetLock(ctx context.Context, userID int64, until time.Time) error {
	u, ok := t.repo.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.LockedUntil = &until
	return nil
}

func (t *memoryTx) ClearLock(ctx context.Context, userID int64) error {
	u, ok := t.repo.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	return nil
}

func (t *memoryTx) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	u, ok := t.repo.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.LastLogin = &at
	return nil
}

func (t *memoryTx) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	for _, u := range t.repo.users {
		if u.Email == params.Email {
			return nil, shared.NewValidationError("email", "a user with this email already exists")
		}
		if u.Username == params.Username {
			return nil, shared.NewValidationError("username", "a user with this username already exists")
		}
	}
	t.repo.nextID++
	u := &User{
		ID:           t.repo.nextID,
		Email:        params.Email,
		Username:     params.Username,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		UserType:     params.UserType,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	t.repo.users[u.ID] = u
	return u, nil
}

func (t *memoryTx) FindRoleByName(ctx context.Context, name string) (int64, error) {
	if t.repo.roleErr != nil {
		return 0, t.repo.roleErr
	}
	id, ok := t.repo.roles[name]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return id, nil
}

func (t *memoryTx) AssignRole(ctx context.Context, userID, roleID int64) error {
	if t.repo.assignErr != nil {
		return t.repo.assignErr
	}
	t.repo.userRoles[userID] = append(t.repo.userRoles[userID], roleID)
	return nil
}

type claimsStub struct {
	perms []string
	roles []string
	err   error
}

func (c *claimsStub) ActiveRolePermissionCodenames(ctx context.Context, userID int64) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.perms, nil
}

func (c *claimsStub) ActiveRoleNames(ctx context.Context, userID int64) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.roles, nil
}

func newTestService(repo *memoryRepo, claims ClaimsSource) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := NewTokenIssuer([]byte("test-secret"), "voxpoll", time.Hour, 24*time.Hour)
	return NewService(repo, claims, tokens, DefaultPasswordPolicy(), logger, nil)
}

func seedUser(t *testing.T, repo *memoryRepo, email, password string) *User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	return repo.addUser(User{
		Email:        email,
		Username:     "tester",
		UserType:     UserTypeUser,
		PasswordHash: hash,
	})
}

func TestRegisterAssignsDefaultRole(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &claimsStub{})

	created, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "sturdy-pass1",
	})
	require.NoError(t, err)
	require.Equal(t, "alice", created.Username)
	require.Equal(t, UserTypeUser, created.UserType)
	require.Equal(t, []int64{1}, repo.userRoles[created.UserID])
}

func TestRegisterDuplicateEmail(t *testing.T) {
	repo := newMemoryRepo()
	seedUser(t, repo, "alice@example.com", "sturdy-pass1")
	svc := newTestService(repo, &claimsStub{})

	_, err := svc.Register(context.Background(), RegisterInput{
		Username: "alice2",
		Email:    "alice@example.com",
		Password: "sturdy-pass1",
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "email")
}

func TestRegisterAggregatesFieldErrors(t *testing.T) {
	repo := newMemoryRepo()
	seedUser(t, repo, "alice@example.com", "sturdy-pass1")
	svc := newTestService(repo, &claimsStub{})

	confirm := "other"
	_, err := svc.Register(context.Background(), RegisterInput{
		Username:        "tester",
		Email:           "alice@example.com",
		Password:        "short",
		PasswordConfirm: &confirm,
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "email")
	require.Contains(t, verr.Fields, "username")
	require.Contains(t, verr.Fields, "password")
	require.Contains(t, verr.Fields, "password_confirm")
}

func TestRegisterSucceedsWithoutDefaultRole(t *testing.T) {
	repo := newMemoryRepo()
	delete(repo.roles, "Regular User")
	svc := newTestService(repo, &claimsStub{})

	created, err := svc.Register(context.Background(), RegisterInput{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "sturdy-pass1",
	})
	require.NoError(t, err)
	require.Empty(t, repo.userRoles[created.UserID])
	_, ferr := repo.FindByID(context.Background(), created.UserID)
	require.NoError(t, ferr)
}

func TestRegisterSucceedsWhenRoleAssignmentFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.assignErr = errors.New("assignment broke")
	svc := newTestService(repo, &claimsStub{})

	created, err := svc.Register(context.Background(), RegisterInput{
		Username: "carol",
		Email:    "carol@example.com",
		Password: "sturdy-pass1",
	})
	require.NoError(t, err)
	_, ferr := repo.FindByID(context.Background(), created.UserID)
	require.NoError(t, ferr)
}

func TestLoginSuccessIssuesClaims(t *testing.T) {
	repo := newMemoryRepo()
	seedUser(t, repo, "alice@example.com", "sturdy-pass1")
	svc := newTestService(repo, &claimsStub{
		perms: []string{"polls.view", "polls.create"},
		roles: []string{"Regular User"},
	})

	pair, err := svc.Login(context.Background(), "alice@example.com", "sturdy-pass1")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := svc.tokens.Parse(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", claims.Email)
	require.Equal(t, []string{"polls.view", "polls.create"}, claims.Permissions)
	require.Equal(t, []string{"Regular User"}, claims.Roles)
	require.False(t, claims.IsAdmin)
	// First login: the claim carries the pre-login value.
	require.Nil(t, claims.LastLogin)
}

func TestLoginUnknownEmail(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &claimsStub{})

	_, err := svc.Login(context.Background(), "ghost@example.com", "whatever1")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginFailuresThenSuccessResetsCounter(t *testing.T) {
	repo := newMemoryRepo()
	u := seedUser(t, repo, "alice@example.com", "sturdy-pass1")
	svc := newTestService(repo, &claimsStub{})

	for i := 0; i < 4; i++ {
		_, err := svc.Login(context.Background(), "alice@example.com", "wrong-pass9")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}
	require.Equal(t, 4, repo.users[u.ID].FailedLoginAttempts)

	_, err := svc.Login(context.Background(), "alice@example.com", "sturdy-pass1")
	require.NoError(t, err)
	require.Equal(t, 0, repo.users[u.ID].FailedLoginAttempts)
	require.Nil(t, repo.users[u.ID].LockedUntil)
	require.NotNil(t, repo.users[u.ID].LastLogin)
}

func TestLoginFifthFailureLocks(t *testing.T) {
	repo := newMemoryRepo()
	u := seedUser(t, repo, "alice@example.com", "sturdy-pass1")
	svc := newTestService(repo, &claimsStub{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	for i := 0; i < 4; i++ {
		_, err := svc.Login(context.Background(), "alice@example.com", "wrong-pass9")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}

	_, err := svc.Login(context.Background(), "alice@example.com", "wrong-pass9")
	var locked *shared.LockedError
	require.ErrorAs(t, err, &locked)
	require.True(t, locked.JustLocked)
	require.Equal(t, 30, locked.RemainingMinutes)
	require.NotNil(t, repo.users[u.ID].LockedUntil)
	require.Equal(t, base.Add(30*time.Minute), *repo.users[u.ID].LockedUntil)
}

func TestLoginWhileLockedRejectsCorrectPassword(t *testing.T) {
	repo := newMemoryRepo()
	seedUser(t, repo, "alice@example.com", "sturdy-pass1")
	svc := newTestService(repo, &claimsStub{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		_, _ = svc.Login(context.Background(), "alice@example.com", "wrong-pass9")
	}

	svc.now = func() time.Time { return base.Add(10 * time.Minute) }
	_, err := svc.Login(context.Background(), "alice@example.com", "sturdy-pass1")
	var locked *shared.LockedError
	require.ErrorAs(t, err, &locked)
	require.False(t, locked.JustLocked)
	require.Equal(t, 20, locked.RemainingMinutes)
}

func TestLoginLazyUnlockAfterExpiry(t *testing.T) {
	repo := newMemoryRepo()
	u := seedUser(t, repo, "alice@example.com", "sturdy-pass1")
	svc := newTestService(repo, &claimsStub{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		_, _ = svc.Login(context.Background(), "alice@example.com", "wrong-pass9")
	}

	svc.now = func() time.Time { return base.Add(31 * time.Minute) }
	_, err := svc.Login(context.Background(), "alice@example.com", "sturdy-pass1")
	require.NoError(t, err)
	require.Nil(t, repo.users[u.ID].LockedUntil)
	require.Equal(t, 0, repo.users[u.ID].FailedLoginAttempts)
}

func TestConcurrentFailedAttemptsNeverUndercount(t *testing.T) {
	repo := newMemoryRepo()
	u := seedUser(t, repo, "alice@example.com", "sturdy-pass1")
	svc := newTestService(repo, &claimsStub{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Login(context.Background(), "alice@example.com", "wrong-pass9")
		}()
	}
	wg.Wait()

	require.Equal(t, 5, repo.users[u.ID].FailedLoginAttempts)
	require.NotNil(t, repo.users[u.ID].LockedUntil)
}

func TestLoginClaimsDegradeOnSourceError(t *testing.T) {
	repo := newMemoryRepo()
	seedUser(t, repo, "alice@example.com", "sturdy-pass1")
	svc := newTestService(repo, &claimsStub{err: errors.New("graph unavailable")})

	pair, err := svc.Login(context.Background(), "alice@example.com", "sturdy-pass1")
	require.NoError(t, err)

	claims, err := svc.tokens.Parse(pair.AccessToken)
	require.NoError(t, err)
	require.Empty(t, claims.Permissions)
	require.Empty(t, claims.Roles)
}

func TestRefreshIssuesNewPair(t *testing.T) {
	repo := newMemoryRepo()
	seedUser(t, repo, "alice@example.com", "sturdy-pass1")
	svc := newTestService(repo, &claimsStub{roles: []string{"Regular User"}})

	pair, err := svc.Login(context.Background(), "alice@example.com", "sturdy-pass1")
	require.NoError(t, err)

	fresh, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, fresh.AccessToken)

	// Access tokens are not valid refresh tokens.
	_, err = svc.Refresh(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
