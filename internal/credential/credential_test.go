package credential

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kalambet/bucketchat/internal/storage"
)

func openTestStore(t *testing.T) *KVStore {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewKVStore(db, "test.credential")
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestReadMissing(t *testing.T) {
	s := openTestStore(t)
	if c := s.Read(); c != nil {
		t.Errorf("Read() = %+v, want nil", c)
	}
}

func TestReadMalformed(t *testing.T) {
	s := openTestStore(t)
	if err := s.kv.SetKV(s.key, "{not json"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	if c := s.Read(); c != nil {
		t.Errorf("Read() = %+v, want nil for malformed record", c)
	}

	if err := s.kv.SetKV(s.key, `{"refresh_token":"r"}`); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	if c := s.Read(); c != nil {
		t.Errorf("Read() = %+v, want nil without access token", c)
	}
}

func TestWriteReadClear(t *testing.T) {
	s := openTestStore(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	if err := s.Write(Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: exp}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	c := s.Read()
	if c == nil {
		t.Fatal("Read() = nil after Write")
	}
	if c.AccessToken != "a" || c.RefreshToken != "r" || !c.ExpiresAt.Equal(exp) {
		t.Errorf("Read() = %+v", c)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if c := s.Read(); c != nil {
		t.Errorf("Read() after Clear = %+v, want nil", c)
	}
}

func TestWriteRejectsEmptyAccessToken(t *testing.T) {
	s := openTestStore(t)
	if err := s.Write(Credential{RefreshToken: "r"}); err == nil {
		t.Fatal("expected error for empty access token")
	}
}

func TestWriteDerivesExpiryFromJWT(t *testing.T) {
	s := openTestStore(t)
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)

	if err := s.Write(Credential{AccessToken: signedToken(t, exp), RefreshToken: "r"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	c := s.Read()
	if c == nil {
		t.Fatal("Read() = nil")
	}
	if !c.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", c.ExpiresAt, exp)
	}
}

func TestIsExpiringSoon(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if s.IsExpiringSoon(60 * time.Second) {
		t.Error("no credential should not be expiring")
	}

	// Opaque token without expiry: unknown expiry is not treated as expiring.
	s.Write(Credential{AccessToken: "opaque", RefreshToken: "r"})
	if s.IsExpiringSoon(60 * time.Second) {
		t.Error("unknown expiry should not be expiring")
	}

	s.Write(Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(30 * time.Second)})
	if !s.IsExpiringSoon(60 * time.Second) {
		t.Error("expiry in 30s should be expiring with a 60s threshold")
	}

	s.Write(Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(10 * time.Minute)})
	if s.IsExpiringSoon(60 * time.Second) {
		t.Error("expiry in 10m should not be expiring with a 60s threshold")
	}

	s.Write(Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: now.Add(-time.Minute)})
	if !s.IsExpiringSoon(60 * time.Second) {
		t.Error("expired credential should be expiring")
	}
}

func TestExpiryFromToken(t *testing.T) {
	if _, ok := ExpiryFromToken("not-a-jwt"); ok {
		t.Error("opaque token should have no expiry")
	}

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := ExpiryFromToken(signedToken(t, exp))
	if !ok {
		t.Fatal("expected expiry from JWT")
	}
	if !got.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got, exp)
	}
}
