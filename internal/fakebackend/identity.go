package fakebackend

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type accessClaims struct {
	Generation int `json:"gen"`
	jwt.RegisteredClaims
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	TokenType    string `json:"token_type"`
}

type grantRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

func (b *Backend) handleToken(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		grantError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	var email string
	switch r.URL.Query().Get("grant_type") {
	case "password":
		b.mu.Lock()
		pw, ok := b.users[req.Email]
		b.mu.Unlock()
		if !ok || subtle.ConstantTimeCompare([]byte(pw), []byte(req.Password)) != 1 {
			grantError(w, http.StatusBadRequest, "invalid_grant", "Invalid login credentials")
			return
		}
		email = req.Email
	case "refresh_token":
		b.mu.Lock()
		owner, ok := b.refreshTokens[req.RefreshToken]
		delete(b.refreshTokens, req.RefreshToken)
		b.mu.Unlock()
		if !ok {
			grantError(w, http.StatusBadRequest, "invalid_grant", "Refresh Token Not Found")
			return
		}
		email = owner
	default:
		grantError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type")
		return
	}

	resp, err := b.issue(email)
	if err != nil {
		grantError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	email, err := b.verify(bearerToken(r))
	if err != nil {
		grantError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	b.mu.Lock()
	for tok, owner := range b.refreshTokens {
		if owner == email {
			delete(b.refreshTokens, tok)
		}
	}
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// issue mints an access token for email and rotates in a new refresh token.
func (b *Backend) issue(email string) (tokenResponse, error) {
	now := time.Now()
	exp := now.Add(b.accessTTL)

	b.mu.Lock()
	gen := b.generation
	b.mu.Unlock()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Generation: gen,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	})
	signed, err := tok.SignedString(b.secret)
	if err != nil {
		return tokenResponse{}, err
	}

	refresh := uuid.NewString()
	b.mu.Lock()
	b.refreshTokens[refresh] = email
	b.mu.Unlock()

	return tokenResponse{AccessToken: signed, RefreshToken: refresh, ExpiresAt: exp.Unix(), TokenType: "bearer"}, nil
}

// verify checks signature, expiry and generation and returns the subject.
func (b *Backend) verify(token string) (string, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	gen := b.generation
	b.mu.Unlock()
	if claims.Generation != gen {
		return "", errors.New("token has been revoked")
	}
	return claims.Subject, nil
}

func grantError(w http.ResponseWriter, code int, errCode, description string) {
	writeJSON(w, code, map[string]string{"error": errCode, "error_description": description})
}
