package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"authd/internal/domain/models"
	"authd/internal/lib/jwt"
	"authd/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret     = "test-secret"
	passDefaultLen = 10
	accessTTL      = 30 * time.Minute
	refreshTTL     = 7 * 24 * time.Hour
)

type fakeStorage struct {
	mu     sync.Mutex
	users  map[string]*models.User
	tokens map[string]models.RefreshToken
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		users:  make(map[string]*models.User),
		tokens: make(map[string]models.RefreshToken),
	}
}

func (f *fakeStorage) SaveUser(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return storage.ErrUserAlreadyExists
		}
	}
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeStorage) UserByLogin(_ context.Context, login string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Username == login || user.Email == login {
			clone := *user
			return &clone, nil
		}
	}
	return nil, storage.ErrUserNotFound
}

func (f *fakeStorage) UserByID(_ context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (f *fakeStorage) SaveRefreshToken(_ context.Context, token, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = models.RefreshToken{Token: token, UserID: userID, ExpiresAt: expiresAt}
	return nil
}

func (f *fakeStorage) IsRefreshTokenValid(_ context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.tokens[token]
	if !ok {
		return false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(f.tokens, token)
		return false, nil
	}
	return true, nil
}

func (f *fakeStorage) DeleteRefreshToken(_ context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tokens[token]; !ok {
		return false, nil
	}
	delete(f.tokens, token)
	return true, nil
}

func (f *fakeStorage) DeleteUserRefreshTokens(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for token, entry := range f.tokens {
		if entry.UserID == userID {
			delete(f.tokens, token)
			count++
		}
	}
	return count, nil
}

func newTestAuth(t *testing.T) (*Auth, *fakeStorage, *jwt.Signer) {
	t.Helper()

	store := newFakeStorage()
	signer := jwt.NewSigner(testSecret)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := New(logger, store, store, store, signer, accessTTL, refreshTTL)
	return service, store, signer
}

func registerAndLogin(t *testing.T, service *Auth) (*models.User, *models.TokenPair) {
	t.Helper()
	ctx := context.Background()

	username := gofakeit.Username()
	password := gofakeit.Password(true, true, true, true, false, passDefaultLen)

	user, err := service.Register(ctx, username, gofakeit.Email(), password)
	require.NoError(t, err)

	pair, err := service.Login(ctx, username, password)
	require.NoError(t, err)
	return user, pair
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()
	service, store, signer := newTestAuth(t)
	ctx := context.Background()

	username := gofakeit.Username()
	email := gofakeit.Email()
	password := gofakeit.Password(true, true, true, true, false, passDefaultLen)

	user, err := service.Register(ctx, username, email, password)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, username, user.Username)
	assert.True(t, user.IsActive)
	assert.Equal(t, models.RoleShipper, user.Role)
	assert.NotContains(t, string(user.PassHash), password)

	pair, err := service.Login(ctx, username, password)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	// The access token is bound to the user's id.
	subject, err := signer.Verify(pair.AccessToken, jwt.KindAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)

	// The refresh token is immediately ledger-valid.
	valid, err := store.IsRefreshTokenValid(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, valid)

	// Login also works with the email.
	pairByEmail, err := service.Login(ctx, email, password)
	require.NoError(t, err)
	require.NotEmpty(t, pairByEmail.AccessToken)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	t.Parallel()
	service, store, _ := newTestAuth(t)
	ctx := context.Background()

	username := gofakeit.Username()
	password := gofakeit.Password(true, true, true, true, false, passDefaultLen)

	_, err := service.Register(ctx, username, gofakeit.Email(), password)
	require.NoError(t, err)

	_, err = service.Register(ctx, username, gofakeit.Email(), password)
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.Len(t, store.users, 1)
}

func TestLoginInvalidCredentials(t *testing.T) {
	t.Parallel()
	service, _, _ := newTestAuth(t)
	ctx := context.Background()

	username := gofakeit.Username()
	password := gofakeit.Password(true, true, true, true, false, passDefaultLen)

	_, err := service.Register(ctx, username, gofakeit.Email(), password)
	require.NoError(t, err)

	// Unknown user and wrong password surface the same failure.
	_, err = service.Login(ctx, "no-such-user", password)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.Login(ctx, username, "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginInactiveAccount(t *testing.T) {
	t.Parallel()
	service, store, _ := newTestAuth(t)
	ctx := context.Background()

	username := gofakeit.Username()
	password := gofakeit.Password(true, true, true, true, false, passDefaultLen)

	user, err := service.Register(ctx, username, gofakeit.Email(), password)
	require.NoError(t, err)

	store.users[user.ID].IsActive = false

	_, err = service.Login(ctx, username, password)
	assert.ErrorIs(t, err, ErrInactiveAccount)
}

func TestRefreshRotationSingleUse(t *testing.T) {
	t.Parallel()
	service, _, _ := newTestAuth(t)
	ctx := context.Background()

	_, pair := registerAndLogin(t, service)

	rotated, err := service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, rotated.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// Replay of the rotated token fails: it was deleted from the ledger.
	_, err = service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// The replacement still works.
	_, err = service.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	t.Parallel()
	service, _, _ := newTestAuth(t)
	ctx := context.Background()

	_, pair := registerAndLogin(t, service)

	_, err := service.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshUnledgeredToken(t *testing.T) {
	t.Parallel()
	service, _, signer := newTestAuth(t)
	ctx := context.Background()

	user, _ := registerAndLogin(t, service)

	// Cryptographically valid but never persisted: the ledger is
	// authoritative.
	orphan, err := signer.Issue(user.ID, jwt.KindRefresh, time.Hour)
	require.NoError(t, err)

	_, err = service.Refresh(ctx, orphan)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout(t *testing.T) {
	t.Parallel()
	service, store, _ := newTestAuth(t)
	ctx := context.Background()

	_, pair := registerAndLogin(t, service)

	require.NoError(t, service.Logout(ctx, pair.RefreshToken))

	valid, err := store.IsRefreshTokenValid(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = service.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Logging out twice fails: the token is already gone.
	err = service.Logout(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogoutAll(t *testing.T) {
	t.Parallel()
	service, store, _ := newTestAuth(t)
	ctx := context.Background()

	username := gofakeit.Username()
	password := gofakeit.Password(true, true, true, true, false, passDefaultLen)
	user, err := service.Register(ctx, username, gofakeit.Email(), password)
	require.NoError(t, err)

	_, err = service.Login(ctx, username, password)
	require.NoError(t, err)
	_, err = service.Login(ctx, username, password)
	require.NoError(t, err)

	_, otherPair := registerAndLogin(t, service)

	count, err := service.LogoutAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Other users' sessions are unaffected.
	valid, err := store.IsRefreshTokenValid(ctx, otherPair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, valid)

	count, err = service.LogoutAll(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestVerifyAccessToken(t *testing.T) {
	t.Parallel()
	service, _, _ := newTestAuth(t)

	user, pair := registerAndLogin(t, service)

	userID, err := service.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = service.VerifyAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
