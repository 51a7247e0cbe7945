package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/bucketchat/internal/credential"
)

const defaultTimeout = 15 * time.Second

// ErrInvalidGrant means the provider rejected the grant itself: the refresh
// token is revoked or expired, or the password is wrong.
var ErrInvalidGrant = errors.New("invalid grant")

// ProviderError is a non-auth failure from the identity provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider returned %d: %s", e.StatusCode, e.Message)
}

// TokenPair is the identity provider's token response.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// Credential converts the pair into a stored credential. Missing expiry is
// left zero so the store can derive it from the token.
func (p TokenPair) Credential() credential.Credential {
	c := credential.Credential{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
	}
	if p.ExpiresAt > 0 {
		c.ExpiresAt = time.Unix(p.ExpiresAt, 0)
	}
	return c
}

// Provider talks to the identity provider's token endpoints.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewProvider creates a Provider for the identity service at baseURL. apiKey
// is sent as the apikey header when non-empty.
func NewProvider(baseURL, apiKey string) *Provider {
	return &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// RefreshGrant exchanges a refresh token for a new token pair.
func (p *Provider) RefreshGrant(ctx context.Context, refreshToken string) (TokenPair, error) {
	return p.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// PasswordGrant signs in with email and password.
func (p *Provider) PasswordGrant(ctx context.Context, email, password string) (TokenPair, error) {
	return p.token(ctx, "password", map[string]string{"email": email, "password": password})
}

// Logout revokes the session behind accessToken.
func (p *Provider) Logout(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/logout", nil)
	if err != nil {
		return fmt.Errorf("creating logout request: %w", err)
	}
	p.setHeaders(req)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return providerError(resp)
	}
	return nil
}

func (p *Provider) token(ctx context.Context, grantType string, payload map[string]string) (TokenPair, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return TokenPair{}, fmt.Errorf("marshaling token request: %w", err)
	}

	u := p.baseURL + "/token?grant_type=" + url.QueryEscape(grantType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return TokenPair{}, fmt.Errorf("creating token request: %w", err)
	}
	p.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, providerError(resp)
	}

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return TokenPair{}, fmt.Errorf("decoding token response: %w", err)
	}
	if pair.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("token response without access_token")
	}
	return pair, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("apikey", p.apiKey)
	}
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"msg"`
}

// providerError classifies a failed response. 401, 403 and 400 invalid_grant
// mean the grant is dead; everything else is transient.
func providerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrInvalidGrant, describe(eb, raw))
	case resp.StatusCode == http.StatusBadRequest && eb.Error == "invalid_grant":
		return fmt.Errorf("%w: %s", ErrInvalidGrant, describe(eb, raw))
	}
	return &ProviderError{StatusCode: resp.StatusCode, Message: describe(eb, raw)}
}

func describe(eb errorBody, raw []byte) string {
	switch {
	case eb.ErrorDescription != "":
		return eb.ErrorDescription
	case eb.Message != "":
		return eb.Message
	case eb.Error != "":
		return eb.Error
	}
	return strings.TrimSpace(string(raw))
}
