// Package session maps opaque bearer tokens to the principal that logged in.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"caseload/api/internal/util"
)

var ErrNotFound = errors.New("session not found or expired")

// Data is what a session token resolves to.
type Data struct {
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists sessions under the hash of their token; raw tokens are never
// stored.
type Store interface {
	Save(ctx context.Context, tokenHash string, data Data, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (Data, error)
	Revoke(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
	Close() error
}

// NewToken returns a fresh bearer token.
func NewToken() string {
	return util.NewID("cls") + util.NewID("")
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func ttlUntil(expiresAt time.Time, fallback time.Duration) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fallback
	}
	return ttl
}
