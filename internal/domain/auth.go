package domain

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound = errors.New("operator not found")
	ErrTokenInvalid = errors.New("token is invalid or expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// User is a Console operator account — the admin bootstrapped from
// console.toml's [admin] block, plus any operators created after.
type User struct {
	ID        string
	Email     string
	TeamID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MagicToken is a one-time sign-in token for the thin admin HTTP surface.
type MagicToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
