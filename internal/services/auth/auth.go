package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"authd/internal/domain/models"
	"authd/internal/lib/jwt"
	"authd/internal/lib/sl"
	"authd/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserNotFound       = errors.New("user not found")
)

type UserSaver interface {
	SaveUser(ctx context.Context, user *models.User) error
}

type UserProvider interface {
	UserByLogin(ctx context.Context, login string) (*models.User, error)
	UserByID(ctx context.Context, userID string) (*models.User, error)
}

// TokenLedger is the source of truth for live refresh tokens. Deletion is
// the revocation mechanism: DeleteRefreshToken reports whether an entry was
// actually removed, which makes rotation single-use under concurrency.
type TokenLedger interface {
	SaveRefreshToken(ctx context.Context, token, userID string, expiresAt time.Time) error
	DeleteRefreshToken(ctx context.Context, token string) (bool, error)
	DeleteUserRefreshTokens(ctx context.Context, userID string) (int64, error)
}

// Auth orchestrates signup, login, refresh rotation and logout over the
// credential store, the token signer and the refresh-token ledger.
type Auth struct {
	logger          *slog.Logger
	userSaver       UserSaver
	userProvider    UserProvider
	tokenLedger     TokenLedger
	signer          *jwt.Signer
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// New returns a new instance of the Auth service.
func New(
	logger *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	tokenLedger TokenLedger,
	signer *jwt.Signer,
	accessTokenTTL time.Duration,
	refreshTokenTTL time.Duration,
) *Auth {
	return &Auth{
		logger:          logger,
		userSaver:       userSaver,
		userProvider:    userProvider,
		tokenLedger:     tokenLedger,
		signer:          signer,
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

// Register creates a new account. No tokens are issued: registration and
// login are separate calls.
func (a *Auth) Register(
	ctx context.Context,
	username string,
	email string,
	password string,
) (*models.User, error) {
	const op = "auth.Register"
	log := a.logger.With(
		slog.String("op", op),
		slog.String("username", username),
	)
	log.Info("register request")

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()
	user := &models.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		PassHash:  passHash,
		IsActive:  true,
		Role:      models.RoleShipper,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := a.userSaver.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			log.Warn("username already taken", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrUsernameTaken)
		}
		log.Error("failed to save user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.String("userID", user.ID))

	return user, nil
}

// Login authenticates by username or email and returns a fresh token pair.
// Absent user and wrong password surface the same generic failure so
// usernames cannot be enumerated.
func (a *Auth) Login(
	ctx context.Context,
	login string,
	password string,
) (*models.TokenPair, error) {
	const op = "auth.Login"
	log := a.logger.With(slog.String("op", op))
	log.Info("login request", slog.String("login", login))

	user, err := a.userProvider.UserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to get user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		log.Warn("invalid password", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !user.IsActive {
		log.Warn("inactive account", slog.String("userID", user.ID))
		return nil, fmt.Errorf("%s: %w", op, ErrInactiveAccount)
	}

	pair, err := a.issuePair(ctx, user.ID)
	if err != nil {
		log.Error("failed to issue token pair", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in", slog.String("userID", user.ID))

	return pair, nil
}

// Refresh exchanges a live refresh token for a new pair, rotating it. The
// presented token is deleted first; if nothing was deleted the token was
// revoked, already rotated or never issued, and the call fails. The delete
// is atomic in every backend, so a concurrent replay succeeds at most once.
func (a *Auth) Refresh(
	ctx context.Context,
	refreshToken string,
) (*models.TokenPair, error) {
	const op = "auth.Refresh"
	log := a.logger.With(slog.String("op", op))
	log.Info("refresh request")

	userID, err := a.signer.Verify(refreshToken, jwt.KindRefresh)
	if err != nil {
		log.Warn("refresh token failed verification", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	deleted, err := a.tokenLedger.DeleteRefreshToken(ctx, refreshToken)
	if err != nil {
		log.Error("failed to delete refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !deleted {
		log.Warn("refresh token not in ledger", slog.String("userID", userID))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	pair, err := a.issuePair(ctx, userID)
	if err != nil {
		log.Error("failed to issue token pair", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens rotated", slog.String("userID", userID))

	return pair, nil
}

// Logout revokes a single refresh token.
func (a *Auth) Logout(ctx context.Context, refreshToken string) error {
	const op = "auth.Logout"
	log := a.logger.With(slog.String("op", op))
	log.Info("logout request")

	deleted, err := a.tokenLedger.DeleteRefreshToken(ctx, refreshToken)
	if err != nil {
		log.Error("failed to delete refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !deleted {
		log.Warn("refresh token not in ledger")
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	log.Info("user logged out")

	return nil
}

// LogoutAll revokes every refresh token owned by the user and returns the
// number revoked. Zero is not an error.
func (a *Auth) LogoutAll(ctx context.Context, userID string) (int64, error) {
	const op = "auth.LogoutAll"
	log := a.logger.With(slog.String("op", op), slog.String("userID", userID))
	log.Info("logout-all request")

	count, err := a.tokenLedger.DeleteUserRefreshTokens(ctx, userID)
	if err != nil {
		log.Error("failed to delete user refresh tokens", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged out everywhere", slog.Int64("count", count))

	return count, nil
}

// UserByID loads the account for protected routes.
func (a *Auth) UserByID(ctx context.Context, userID string) (*models.User, error) {
	const op = "auth.UserByID"
	log := a.logger.With(slog.String("op", op), slog.String("userID", userID))

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// VerifyAccessToken validates a bearer access token and returns the user id
// it is bound to. Used by the HTTP middleware.
func (a *Auth) VerifyAccessToken(token string) (string, error) {
	userID, err := a.signer.Verify(token, jwt.KindAccess)
	if err != nil {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// issuePair signs an access and a refresh token for the user and persists
// the refresh token before returning the pair.
func (a *Auth) issuePair(ctx context.Context, userID string) (*models.TokenPair, error) {
	accessToken, err := a.signer.Issue(userID, jwt.KindAccess, a.accessTokenTTL)
	if err != nil {
		return nil, err
	}

	refreshToken, err := a.signer.Issue(userID, jwt.KindRefresh, a.refreshTokenTTL)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(a.refreshTokenTTL)
	if err := a.tokenLedger.SaveRefreshToken(ctx, refreshToken, userID, expiresAt); err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
