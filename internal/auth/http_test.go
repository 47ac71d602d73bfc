// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers bearer token extraction, API key lookup, and identity context

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/waylink/waylink/internal/store"
)

func echoIdentity(t *testing.T, got **Identity) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_ValidJWT(t *testing.T) {
	verifier := NewJWTVerifier([]byte("secret"))
	token, err := verifier.Generate("owner-1", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var got *Identity
	handler := Middleware(verifier, store.NewMockStore())(echoIdentity(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.Owner != "owner-1" || got.Method != MethodJWT {
		t.Errorf("identity = %+v", got)
	}
}

func TestMiddleware_MissingAuth(t *testing.T) {
	handler := Middleware(NewJWTVerifier([]byte("secret")), store.NewMockStore())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not run")
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddleware_BadToken(t *testing.T) {
	handler := Middleware(NewJWTVerifier([]byte("secret")), store.NewMockStore())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not run")
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddleware_ValidAPIKey(t *testing.T) {
	st := store.NewMockStore()
	plaintext, record, err := MintKey("owner-2", "ci")
	if err != nil {
		t.Fatalf("MintKey() error = %v", err)
	}
	if err := st.CreateAPIKey(context.Background(), record); err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	var got *Identity
	handler := Middleware(NewJWTVerifier([]byte("secret")), st)(echoIdentity(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", plaintext)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.Owner != "owner-2" || got.Method != MethodAPIKey || got.KeyID != record.ID {
		t.Errorf("identity = %+v", got)
	}

	// Key usage was stamped
	stored, err := st.GetAPIKey(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetAPIKey() error = %v", err)
	}
	if stored.LastUsedAt == nil {
		t.Error("LastUsedAt should be set after use")
	}
}

func TestMiddleware_UnknownAPIKey(t *testing.T) {
	handler := Middleware(NewJWTVerifier([]byte("secret")), store.NewMockStore())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not run")
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "wl_deadbeef.cafecafe")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddleware_WrongAPIKeySecret(t *testing.T) {
	st := store.NewMockStore()
	_, record, err := MintKey("owner-2", "ci")
	if err != nil {
		t.Fatalf("MintKey() error = %v", err)
	}
	if err := st.CreateAPIKey(context.Background(), record); err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	handler := Middleware(NewJWTVerifier([]byte("secret")), st)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not run")
		}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "wl_"+record.ID+".wrongsecret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
