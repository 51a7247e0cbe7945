// Package auth exchanges credentials with the identity provider and keeps
// the credential store current.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/bucketchat/internal/credential"
)

// ErrNoRefreshToken is returned when there is nothing to refresh with.
var ErrNoRefreshToken = errors.New("no refresh token")

// RefreshGranter performs the refresh-token grant.
type RefreshGranter interface {
	RefreshGrant(ctx context.Context, refreshToken string) (TokenPair, error)
}

// Refresher renews the access token in a credential store.
type Refresher struct {
	provider RefreshGranter
	store    credential.Store
	group    singleflight.Group
	logger   *slog.Logger
}

func NewRefresher(provider RefreshGranter, store credential.Store) *Refresher {
	return &Refresher{
		provider: provider,
		store:    store,
		logger:   slog.Default(),
	}
}

// Refresh exchanges the stored refresh token for a new pair, writes it to the
// store and returns the new access token. Concurrent calls share one grant.
//
// The grant itself is not cancelled with ctx: a caller that gives up gets
// ctx.Err() while the grant completes for everyone else waiting on it.
//
// Any error means "could not refresh now". The store is cleared only when the
// provider rejects the refresh token.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	ch := r.group.DoChan("refresh", func() (any, error) {
		return r.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("joined in-flight token refresh")
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Refresher) refresh(ctx context.Context) (string, error) {
	cur := r.store.Read()
	if cur == nil || cur.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}

	pair, err := r.provider.RefreshGrant(ctx, cur.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			r.logger.Warn("refresh token rejected, clearing credential", "error", err)
			if clearErr := r.store.Clear(); clearErr != nil {
				r.logger.Error("failed to clear credential", "error", clearErr)
			}
		} else {
			r.logger.Warn("token refresh failed", "error", err)
		}
		return "", fmt.Errorf("refreshing token: %w", err)
	}

	next := pair.Credential()
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if err := r.store.Write(next); err != nil {
		return "", fmt.Errorf("storing refreshed credential: %w", err)
	}
	r.logger.Debug("access token refreshed")
	return next.AccessToken, nil
}
