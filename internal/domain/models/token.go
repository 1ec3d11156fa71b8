package models

import "time"

// RefreshToken is a ledger entry for an issued refresh token. The token
// string itself is the key; deleting the entry is the revocation mechanism.
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// TokenPair is the (access, refresh) tuple returned at login and refresh.
// The access token is never persisted; the refresh token is written to the
// ledger before the pair is handed out.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
