package models

import "time"

// Role is the coarse user role stored on the account. It is persisted and
// returned in API responses but not enforced anywhere in this service.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDriver  Role = "driver"
	RoleShipper Role = "shipper"
)

// User represents a registered account.
// PassHash is never serialized into API responses.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	PassHash  []byte    `json:"-"`
	IsActive  bool      `json:"is_active"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
