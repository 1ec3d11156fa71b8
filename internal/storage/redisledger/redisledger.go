package redisledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis"
)

const keyPrefix = "authd"

// Ledger is a refresh-token ledger backed by Redis. Entries carry a native
// key TTL, so expiry cleanup happens inside Redis rather than lazily in Go.
// A per-user set supports bulk revocation.
type Ledger struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(addr, password string, db int) (*Ledger, error) {
	const op = "storage.redisledger.New"

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping().Err(); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Ledger{client: client}, nil
}

func (l *Ledger) Close() error {
	return l.client.Close()
}

func tokenKey(token string) string {
	return fmt.Sprintf("%s:token:%s", keyPrefix, token)
}

func userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", keyPrefix, userID)
}

func (l *Ledger) SaveRefreshToken(_ context.Context, token, userID string, expiresAt time.Time) error {
	const op = "storage.redisledger.SaveRefreshToken"

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%s: token already expired", op)
	}

	pipe := l.client.TxPipeline()
	pipe.Set(tokenKey(token), userID, ttl)
	pipe.SAdd(userKey(userID), token)
	pipe.Expire(userKey(userID), ttl)
	if _, err := pipe.Exec(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IsRefreshTokenValid reports whether the token is still alive. Redis drops
// expired keys on its own, so existence implies validity.
func (l *Ledger) IsRefreshTokenValid(_ context.Context, token string) (bool, error) {
	const op = "storage.redisledger.IsRefreshTokenValid"

	_, err := l.client.Get(tokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// DeleteRefreshToken removes the token and reports whether an entry existed.
// The DEL count is the atomic signal: under concurrent calls for the same
// token only one caller observes a deletion.
func (l *Ledger) DeleteRefreshToken(_ context.Context, token string) (bool, error) {
	const op = "storage.redisledger.DeleteRefreshToken"

	userID, err := l.client.Get(tokenKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	deleted, err := l.client.Del(tokenKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if deleted == 0 {
		return false, nil
	}

	if err := l.client.SRem(userKey(userID), token).Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (l *Ledger) DeleteUserRefreshTokens(_ context.Context, userID string) (int64, error) {
	const op = "storage.redisledger.DeleteUserRefreshTokens"

	tokens, err := l.client.SMembers(userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var count int64
	for _, token := range tokens {
		deleted, err := l.client.Del(tokenKey(token)).Result()
		if err != nil {
			return count, fmt.Errorf("%s: %w", op, err)
		}
		// Set members whose token key already expired don't count.
		count += deleted
	}

	if err := l.client.Del(userKey(userID)).Err(); err != nil {
		return count, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// PurgeExpiredTokens is a no-op for Redis: key TTLs already remove expired
// entries server-side.
func (l *Ledger) PurgeExpiredTokens(_ context.Context) (int64, error) {
	return 0, nil
}
