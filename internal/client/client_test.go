package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/bucketchat/internal/credential"
	"github.com/kalambet/bucketchat/internal/storage"
)

type recordedRequest struct {
	Method    string
	Path      string
	Body      string
	Auth      string
	RequestID string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

// newTestServer answers every request with handler after recording it.
func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method:    r.Method,
			Path:      r.URL.RequestURI(),
			Body:      string(body),
			Auth:      r.Header.Get("Authorization"),
			RequestID: r.Header.Get("X-Request-ID"),
		})
		ts.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]recordedRequest(nil), ts.requests...)
}

// fakeRefresher writes token into the store on each call unless err is set.
type fakeRefresher struct {
	store credential.Store
	token string
	err   error
	calls atomic.Int32
}

func (f *fakeRefresher) Refresh(context.Context) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	if err := f.store.Write(credential.Credential{
		AccessToken:  f.token,
		RefreshToken: "rotated",
		ExpiresAt:    time.Now().Add(time.Hour),
	}); err != nil {
		return "", err
	}
	return f.token, nil
}

func openCredentialStore(t *testing.T) *credential.KVStore {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return credential.NewKVStore(db, "test.credential")
}

func TestDo_InjectsBearerToken(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true}`)
	})
	store := openCredentialStore(t)
	store.Write(credential.Credential{AccessToken: "tok-1", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)})
	ref := &fakeRefresher{store: store, token: "unused"}

	c := New(ts.server.URL, store, ref, Options{})
	var out map[string]bool
	if err := c.PostJSON(context.Background(), "/chat/ask", map[string]string{"q": "hi"}, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if !out["ok"] {
		t.Errorf("out = %v", out)
	}

	reqs := ts.recorded()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].Auth != "Bearer tok-1" {
		t.Errorf("auth = %q, want Bearer tok-1", reqs[0].Auth)
	}
	if reqs[0].Body != `{"q":"hi"}` {
		t.Errorf("body = %q", reqs[0].Body)
	}
	if reqs[0].RequestID == "" {
		t.Error("missing X-Request-ID")
	}
	if ref.calls.Load() != 0 {
		t.Errorf("refresh calls = %d, want 0", ref.calls.Load())
	}
}

func TestDo_ReadsTokenFreshEachRequest(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	store := openCredentialStore(t)
	store.Write(credential.Credential{AccessToken: "first", RefreshToken: "r"})
	c := New(ts.server.URL, store, &fakeRefresher{store: store}, Options{})

	c.GetJSON(context.Background(), "/a", nil)
	store.Write(credential.Credential{AccessToken: "second", RefreshToken: "r"})
	c.GetJSON(context.Background(), "/b", nil)

	reqs := ts.recorded()
	if reqs[0].Auth != "Bearer first" || reqs[1].Auth != "Bearer second" {
		t.Errorf("auth headers = %q, %q", reqs[0].Auth, reqs[1].Auth)
	}
}

// A token expiring within the threshold is refreshed once before the request
// and the request carries the refreshed token.
func TestDo_PreemptiveRefresh(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	store := openCredentialStore(t)
	store.Write(credential.Credential{AccessToken: "stale", RefreshToken: "r", ExpiresAt: time.Now().Add(30 * time.Second)})
	if !store.IsExpiringSoon(60 * time.Second) {
		t.Fatal("precondition: credential should be expiring soon")
	}
	ref := &fakeRefresher{store: store, token: "fresh"}

	c := New(ts.server.URL, store, ref, Options{RefreshThreshold: 60 * time.Second})
	if err := c.GetJSON(context.Background(), "/sources/status/b1", nil); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if err := c.GetJSON(context.Background(), "/sources/status/b1", nil); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}

	if n := ref.calls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	for i, r := range ts.recorded() {
		if r.Auth != "Bearer fresh" {
			t.Errorf("request %d auth = %q, want Bearer fresh", i, r.Auth)
		}
	}
}

func TestDo_PreemptiveRefreshFailureStillSends(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	store := openCredentialStore(t)
	store.Write(credential.Credential{AccessToken: "stale", RefreshToken: "r", ExpiresAt: time.Now().Add(10 * time.Second)})
	ref := &fakeRefresher{store: store, err: errors.New("network down")}

	c := New(ts.server.URL, store, ref, Options{})
	if err := c.GetJSON(context.Background(), "/x", nil); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if reqs := ts.recorded(); len(reqs) != 1 || reqs[0].Auth != "Bearer stale" {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestDo_RefreshesAndRetriesOnceOn401(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer renewed" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
	store := openCredentialStore(t)
	store.Write(credential.Credential{AccessToken: "revoked", RefreshToken: "r"})
	ref := &fakeRefresher{store: store, token: "renewed"}

	c := New(ts.server.URL, store, ref, Options{})
	var out map[string]string
	if err := c.PostJSON(context.Background(), "/chat/messages", map[string]string{"message": "hello"}, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if out["message"] != "hello" {
		t.Errorf("echoed body = %v, want the original body replayed", out)
	}

	reqs := ts.recorded()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[0].RequestID != reqs[1].RequestID {
		t.Errorf("retry changed request id: %q -> %q", reqs[0].RequestID, reqs[1].RequestID)
	}
	if ref.calls.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1", ref.calls.Load())
	}
}

// Two consecutive 401s produce exactly one refresh and one retry, then a
// terminal session-expired error.
func TestDo_SecondUnauthorizedIsTerminal(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	store := openCredentialStore(t)
	store.Write(credential.Credential{AccessToken: "a", RefreshToken: "r"})
	ref := &fakeRefresher{store: store, token: "b"}

	var signedOut atomic.Int32
	c := New(ts.server.URL, store, ref, Options{OnSessionExpired: func() { signedOut.Add(1) }})
	_, err := c.Do(context.Background(), http.MethodGet, "/chat/sessions", nil)
	if !IsSessionExpired(err) {
		t.Fatalf("error = %v, want ErrSessionExpired", err)
	}
	if n := ref.calls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if n := len(ts.recorded()); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
	if n := signedOut.Load(); n != 1 {
		t.Errorf("sign-out hook calls = %d, want 1", n)
	}
}

// blockingRefresher waits for its caller's context like a refresh whose
// grant is still in flight.
type blockingRefresher struct{}

func (blockingRefresher) Refresh(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestDo_CancelledDuringRefreshDoesNotSignOut(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	store := openCredentialStore(t)
	store.Write(credential.Credential{AccessToken: "a", RefreshToken: "r"})

	var signedOut atomic.Int32
	c := New(ts.server.URL, store, blockingRefresher{}, Options{OnSessionExpired: func() { signedOut.Add(1) }})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Do(ctx, http.MethodGet, "/x", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
	if IsSessionExpired(err) {
		t.Error("caller deadline reported as session expiry")
	}
	if signedOut.Load() != 0 {
		t.Errorf("sign-out hook calls = %d, want 0", signedOut.Load())
	}
	if store.Read() == nil {
		t.Error("credential cleared")
	}
}

func TestDo_RefreshFailureSignsOut(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	store := openCredentialStore(t)
	store.Write(credential.Credential{AccessToken: "a", RefreshToken: "r"})
	ref := &fakeRefresher{store: store, err: errors.New("invalid grant")}

	var signedOut atomic.Int32
	c := New(ts.server.URL, store, ref, Options{OnSessionExpired: func() { signedOut.Add(1) }})
	_, err := c.Do(context.Background(), http.MethodGet, "/x", nil)
	if !IsSessionExpired(err) {
		t.Fatalf("error = %v, want ErrSessionExpired", err)
	}
	if signedOut.Load() != 1 {
		t.Errorf("sign-out hook calls = %d, want 1", signedOut.Load())
	}
	if n := len(ts.recorded()); n != 1 {
		t.Errorf("requests = %d, want 1 (no retry without a new token)", n)
	}
}

func TestDo_OtherErrorsPropagateUnchanged(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "maintenance")
	})
	store := openCredentialStore(t)
	store.Write(credential.Credential{AccessToken: "a", RefreshToken: "r"})
	ref := &fakeRefresher{store: store, token: "b"}

	c := New(ts.server.URL, store, ref, Options{})
	err := c.GetJSON(context.Background(), "/x", nil)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusServiceUnavailable || se.Body != "maintenance" {
		t.Errorf("StatusError = %+v", se)
	}
	if ref.calls.Load() != 0 {
		t.Errorf("refresh calls = %d, want 0", ref.calls.Load())
	}
	if n := len(ts.recorded()); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestDo_TransportErrorPropagates(t *testing.T) {
	store := openCredentialStore(t)
	store.Write(credential.Credential{AccessToken: "a", RefreshToken: "r"})
	ref := &fakeRefresher{store: store, token: "b"}

	c := New("http://127.0.0.1:1", store, ref, Options{HTTPClient: &http.Client{Timeout: time.Second}})
	_, err := c.Do(context.Background(), http.MethodGet, "/x", nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if IsSessionExpired(err) {
		t.Errorf("transport error must not be reported as session expiry: %v", err)
	}
	if ref.calls.Load() != 0 {
		t.Errorf("refresh calls = %d, want 0", ref.calls.Load())
	}
}
