// ABOUTME: HTTP middleware authenticating requests by JWT or API key
// ABOUTME: Attaches the resolved Identity to the request context

package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/waylink/waylink/internal/store"
)

// KeyStore is the subset of the store the middleware needs for API keys.
type KeyStore interface {
	GetAPIKey(ctx context.Context, id string) (*store.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	http.Error(w, `{"success":false,"error":{"code":"UNAUTHORIZED","message":"`+msg+`"}}`, http.StatusUnauthorized)
}

// Middleware authenticates each request. An X-API-Key header is checked
// first; otherwise a Bearer JWT is required. On success the request
// context carries an Identity.
func Middleware(verifier TokenVerifier, keys KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get("X-API-Key"); raw != "" {
				id, err := verifyAPIKey(r.Context(), keys, raw)
				if err != nil {
					unauthorized(w, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				unauthorized(w, errMsg)
				return
			}

			owner, err := verifier.Verify(token)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}

			id := &Identity{Owner: owner, Method: MethodJWT}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func verifyAPIKey(ctx context.Context, keys KeyStore, raw string) (*Identity, error) {
	keyID, secret, err := SplitKey(raw)
	if err != nil {
		return nil, err
	}

	record, err := keys.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, ErrBadKey
	}
	if err := VerifyKey(record, secret); err != nil {
		return nil, err
	}

	// Best effort; key usage tracking never blocks a request.
	_ = keys.TouchAPIKey(ctx, keyID, time.Now().UTC())

	return &Identity{Owner: record.Owner, Method: MethodAPIKey, KeyID: record.ID}, nil
}
