package fakebackend

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey struct{}

// bearerAuth rejects requests whose bearer token verify refuses and stores
// the token subject in the request context.
func bearerAuth(verify func(token string) (string, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := bearerToken(r)
			if tok == "" {
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
				return
			}
			subject, err := verify(tok)
			if err != nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid bearer token: %v", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, subject)))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return auth[len(prefix):]
}

func subject(r *http.Request) string {
	s, _ := r.Context().Value(ctxKey{}).(string)
	return s
}
