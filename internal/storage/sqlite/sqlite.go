package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"authd/internal/domain/models"
	"authd/internal/storage"

	"github.com/mattn/go-sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

// New returns a new instance of the Storage.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.sqlite.SaveUser"
	stmt, err := s.db.Prepare(`
		INSERT INTO users (id, username, email, pass_hash, is_active, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx,
		user.ID, user.Username, user.Email, user.PassHash,
		user.IsActive, string(user.Role), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UserByLogin retrieves a user matching either username or email.
func (s *Storage) UserByLogin(ctx context.Context, login string) (*models.User, error) {
	const op = "storage.sqlite.UserByLogin"
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, pass_hash, is_active, role, created_at, updated_at
		FROM users WHERE username = ? OR email = ?`, login, login)
	return scanUser(row, op)
}

func (s *Storage) UserByID(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.sqlite.UserByID"
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, pass_hash, is_active, role, created_at, updated_at
		FROM users WHERE id = ?`, userID)
	return scanUser(row, op)
}

func scanUser(row *sql.Row, op string) (*models.User, error) {
	var user models.User
	var role string
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PassHash,
		&user.IsActive, &role, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user.Role = models.Role(role)
	return &user, nil
}

func (s *Storage) SaveRefreshToken(ctx context.Context, token, userID string, expiresAt time.Time) error {
	const op = "storage.sqlite.SaveRefreshToken"
	stmt, err := s.db.Prepare("INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, token, userID, expiresAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IsRefreshTokenValid reports whether the token exists and has not expired.
// An expired entry is deleted as a side effect of the check.
func (s *Storage) IsRefreshTokenValid(ctx context.Context, token string) (bool, error) {
	const op = "storage.sqlite.IsRefreshTokenValid"
	row := s.db.QueryRowContext(ctx, "SELECT expires_at FROM refresh_tokens WHERE token = ?", token)

	var expiresAt time.Time
	if err := row.Scan(&expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if time.Now().After(expiresAt) {
		if _, err := s.DeleteRefreshToken(ctx, token); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		return false, nil
	}
	return true, nil
}

// DeleteRefreshToken removes the token and reports whether an entry existed.
// The delete is a single statement, so concurrent calls for the same token
// succeed at most once.
func (s *Storage) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	const op = "storage.sqlite.DeleteRefreshToken"
	result, err := s.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE token = ?", token)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return affected > 0, nil
}

func (s *Storage) DeleteUserRefreshTokens(ctx context.Context, userID string) (int64, error) {
	const op = "storage.sqlite.DeleteUserRefreshTokens"
	result, err := s.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return affected, nil
}

// PurgeExpiredTokens removes every expired ledger entry. Meant for an
// external scheduled job, not request paths.
func (s *Storage) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	const op = "storage.sqlite.PurgeExpiredTokens"
	result, err := s.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at < ?", time.Now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return affected, nil
}
