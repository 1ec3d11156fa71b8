package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authd/internal/domain/models"
	"authd/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Storage struct {
	client *mongo.Client
	users  *mongo.Collection
	tokens *mongo.Collection
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Username  string    `bson:"username"`
	Email     string    `bson:"email"`
	PassHash  []byte    `bson:"pass_hash"`
	IsActive  bool      `bson:"is_active"`
	Role      string    `bson:"role"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type refreshTokenDoc struct {
	Token     string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client: client,
		users:  db.Collection("users"),
		tokens: db.Collection("refresh_tokens"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	// users.username unique
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.username index: %w", err)
	}

	// users.email unique
	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.email index: %w", err)
	}

	// refresh_tokens.user_id for bulk revocation
	_, err = s.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("refresh_tokens.user_id index: %w", err)
	}

	// refresh_tokens.expires_at TTL index (auto-delete after expiration)
	_, err = s.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("refresh_tokens.expires_at TTL index: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.mongodb.SaveUser"

	doc := userDoc{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		PassHash:  user.PassHash,
		IsActive:  user.IsActive,
		Role:      string(user.Role),
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}

	_, err := s.users.InsertOne(ctx, doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UserByLogin retrieves a user matching either username or email.
func (s *Storage) UserByLogin(ctx context.Context, login string) (*models.User, error) {
	const op = "storage.mongodb.UserByLogin"
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "username", Value: login}},
		bson.D{{Key: "email", Value: login}},
	}}}
	return s.findUser(ctx, filter, op)
}

func (s *Storage) UserByID(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.mongodb.UserByID"
	return s.findUser(ctx, bson.D{{Key: "_id", Value: userID}}, op)
}

func (s *Storage) findUser(ctx context.Context, filter bson.D, op string) (*models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.User{
		ID:        doc.ID,
		Username:  doc.Username,
		Email:     doc.Email,
		PassHash:  doc.PassHash,
		IsActive:  doc.IsActive,
		Role:      models.Role(doc.Role),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// SaveRefreshToken stores a new ledger entry keyed by the token string.
func (s *Storage) SaveRefreshToken(ctx context.Context, token, userID string, expiresAt time.Time) error {
	const op = "storage.mongodb.SaveRefreshToken"

	doc := refreshTokenDoc{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}

	if _, err := s.tokens.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IsRefreshTokenValid reports whether the token exists and has not expired.
// An expired entry is deleted as a side effect of the check.
func (s *Storage) IsRefreshTokenValid(ctx context.Context, token string) (bool, error) {
	const op = "storage.mongodb.IsRefreshTokenValid"

	var doc refreshTokenDoc
	err := s.tokens.FindOne(ctx, bson.D{{Key: "_id", Value: token}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if time.Now().After(doc.ExpiresAt) {
		if _, err := s.DeleteRefreshToken(ctx, token); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		return false, nil
	}
	return true, nil
}

// DeleteRefreshToken removes the token and reports whether an entry existed.
// DeleteOne is atomic, so concurrent calls for the same token succeed at
// most once.
func (s *Storage) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	const op = "storage.mongodb.DeleteRefreshToken"

	result, err := s.tokens.DeleteOne(ctx, bson.D{{Key: "_id", Value: token}})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return result.DeletedCount > 0, nil
}

func (s *Storage) DeleteUserRefreshTokens(ctx context.Context, userID string) (int64, error) {
	const op = "storage.mongodb.DeleteUserRefreshTokens"

	result, err := s.tokens.DeleteMany(ctx, bson.D{{Key: "user_id", Value: userID}})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.DeletedCount, nil
}

// PurgeExpiredTokens removes every expired ledger entry. The TTL index does
// this on its own schedule; the explicit sweep exists for external jobs.
func (s *Storage) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	const op = "storage.mongodb.PurgeExpiredTokens"

	filter := bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: time.Now()}}}}
	result, err := s.tokens.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.DeletedCount, nil
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
