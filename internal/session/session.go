// Package session issues and verifies opaque bearer tokens backed by Redis.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 72 * time.Hour

// tokenBytes is the entropy of an issued token before encoding.
const tokenBytes = 32

// ErrInvalidToken indicates a token that is unknown, expired or revoked.
var ErrInvalidToken = errors.New("session: invalid token")

// Issuer issues opaque session tokens mapping to a user identity.
type Issuer struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIssuer creates an Issuer storing sessions in Redis with the given TTL.
func NewIssuer(client *redis.Client, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{client: client, ttl: ttl}
}

func sessionKey(token string) string {
	return "session:" + token
}

// Issue creates a fresh token bound to userID.
func (i *Issuer) Issue(ctx context.Context, userID string) (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("session: generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	if err := i.client.Set(ctx, sessionKey(token), userID, i.ttl).Err(); err != nil {
		return "", fmt.Errorf("session: store token: %w", err)
	}
	return token, nil
}

// Verify resolves a token to the user it was issued for.
func (i *Issuer) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	userID, err := i.client.Get(ctx, sessionKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("session: lookup token: %w", err)
	}
	return userID, nil
}

// Revoke invalidates a token. Revoking an unknown token is a no-op.
func (i *Issuer) Revoke(ctx context.Context, token string) error {
	if err := i.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("session: revoke token: %w", err)
	}
	return nil
}
