// Package client is the authenticated request pipeline for the knowledge and
// chat backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/bucketchat/internal/credential"
)

// ErrSessionExpired is terminal: the user has to sign in again.
var ErrSessionExpired = errors.New("session expired")

// IsSessionExpired reports whether err requires re-authentication.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// TokenRefresher renews the stored access token.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Options configures a Client. Zero values get defaults.
type Options struct {
	HTTPClient       *http.Client
	RefreshThreshold time.Duration
	// OnSessionExpired runs when a 401 could not be recovered by a refresh.
	OnSessionExpired func()
	Logger           *slog.Logger
}

// Client sends requests with the current bearer token and recovers from a
// single authentication failure by refreshing and retrying once.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	creds            credential.Store
	refresher        TokenRefresher
	threshold        time.Duration
	onSessionExpired func()
	logger           *slog.Logger
}

func New(baseURL string, creds credential.Store, refresher TokenRefresher, opts Options) *Client {
	c := &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       opts.HTTPClient,
		creds:            creds,
		refresher:        refresher,
		threshold:        opts.RefreshThreshold,
		onSessionExpired: opts.OnSessionExpired,
		logger:           opts.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if c.threshold <= 0 {
		c.threshold = 60 * time.Second
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Do sends one logical request. body, when non-nil, is encoded as JSON.
//
// The returned response is whatever the backend answered, except that a 401
// never reaches the caller: it is either recovered or turned into
// ErrSessionExpired.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		payload = data
	}
	requestID := uuid.NewString()

	if c.creds.IsExpiringSoon(c.threshold) {
		if _, err := c.refresher.Refresh(ctx); err != nil {
			c.logger.Warn("pre-emptive token refresh failed", "error", err)
		}
	}

	resp, err := c.send(ctx, method, path, payload, requestID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	c.logger.Debug("request unauthorized, refreshing token", "method", method, "path", path, "request_id", requestID)
	if _, err := c.refresher.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("token refresh failed, signing out", "error", err)
		c.expire()
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	resp, err = c.send(ctx, method, path, payload, requestID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.logger.Warn("retried request still unauthorized, signing out", "method", method, "path", path, "request_id", requestID)
		c.expire()
		return nil, fmt.Errorf("%w: retried request still unauthorized", ErrSessionExpired)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, requestID string) (*http.Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if cred := c.creds.Read(); cred != nil {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	return c.httpClient.Do(req)
}

func (c *Client) expire() {
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
