// Package credential holds the bearer-token credential and the store that
// persists it between runs.
package credential

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the access/refresh token pair issued by the identity provider.
// A zero ExpiresAt means the expiry is unknown.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// ExpiresWithin reports whether the credential expires less than threshold
// after now. Unknown expiry never counts as expiring.
func (c Credential) ExpiresWithin(threshold time.Duration, now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return c.ExpiresAt.Sub(now) < threshold
}

// Store is the single source of truth for the current credential.
type Store interface {
	// Read returns the stored credential, or nil when none is usable.
	Read() *Credential
	Write(Credential) error
	Clear() error
	IsExpiringSoon(threshold time.Duration) bool
}

// KV is the persistent key-value capability the store is built on.
type KV interface {
	GetKV(key string) (string, error)
	SetKV(key, value string) error
	DeleteKV(key string) error
}

// KVStore keeps one JSON-encoded credential under a fixed key.
type KVStore struct {
	kv     KV
	key    string
	now    func() time.Time
	logger *slog.Logger
}

// NewKVStore creates a Store that persists the credential under key.
func NewKVStore(kv KV, key string) *KVStore {
	return &KVStore{
		kv:     kv,
		key:    key,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Read never fails: missing or malformed records yield nil.
func (s *KVStore) Read() *Credential {
	raw, err := s.kv.GetKV(s.key)
	if err != nil {
		s.logger.Debug("no stored credential", "key", s.key, "error", err)
		return nil
	}
	var c Credential
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		s.logger.Debug("malformed stored credential", "key", s.key, "error", err)
		return nil
	}
	if c.AccessToken == "" {
		return nil
	}
	return &c
}

// Write replaces the stored credential. When ExpiresAt is unset it is taken
// from the access token's exp claim if the token is a JWT.
func (s *KVStore) Write(c Credential) error {
	if c.AccessToken == "" {
		return errors.New("credential: empty access token")
	}
	if c.ExpiresAt.IsZero() {
		if exp, ok := ExpiryFromToken(c.AccessToken); ok {
			c.ExpiresAt = exp
		}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.kv.SetKV(s.key, string(data))
}

func (s *KVStore) Clear() error {
	return s.kv.DeleteKV(s.key)
}

func (s *KVStore) IsExpiringSoon(threshold time.Duration) bool {
	c := s.Read()
	if c == nil {
		return false
	}
	return c.ExpiresWithin(threshold, s.now())
}

// ExpiryFromToken reads the exp claim of a JWT without verifying its signature.
func ExpiryFromToken(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
