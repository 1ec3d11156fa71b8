package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind discriminates access tokens from refresh tokens inside the
// signed envelope, so one kind cannot be replayed as the other.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// ErrInvalidToken is the only failure Verify reports. Expired, malformed,
// badly signed and wrong-kind tokens are deliberately indistinguishable to
// the caller.
var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"typ"`
}

// Signer issues and verifies HS256 tokens with a process-wide secret.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Issue creates a signed token carrying the subject (user id), the kind
// discriminator and an expiry of now+ttl.
func (s *Signer) Issue(subject string, kind TokenKind, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind: kind,
	})
	return token.SignedString(s.secret)
}

// Verify checks signature, expiry and the kind discriminator, and returns
// the embedded subject. Any failure is reported as ErrInvalidToken.
func (s *Signer) Verify(tokenString string, expected TokenKind) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Kind != expected || c.Subject == "" {
		return "", ErrInvalidToken
	}

	return c.Subject, nil
}
