package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/walletauth/internal/auth"
	"github.com/hitoshi/walletauth/internal/model"
)

// --- モック定義 ---

type mockTokenParser struct {
	parseFn func(token string) (*auth.Claims, error)
}

func (m *mockTokenParser) Parse(token string) (*auth.Claims, error) {
	return m.parseFn(token)
}

func validParser() *mockTokenParser {
	return &mockTokenParser{parseFn: func(token string) (*auth.Claims, error) {
		if token == "valid-token" {
			return &auth.Claims{WalletAddress: "0xabc", Role: "User"}, nil
		}
		return nil, auth.ErrInvalidToken
	}}
}

func TestSessionMiddleware_ValidToken_InjectsWalletAddress(t *testing.T) {
	var captured string
	handler := NewSessionMiddleware(validParser())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := WalletAddressFromContext(r.Context())
		if err != nil {
			t.Errorf("WalletAddressFromContext: %v", err)
		}
		captured = addr
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured != "0xabc" {
		t.Errorf("wallet address = %q, want 0xabc", captured)
	}
}

func TestSessionMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"invalid token", "Bearer forged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewSessionMiddleware(validParser())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if called {
				t.Error("next handler should not be called")
			}
		})
	}
}

func TestSessionMiddleware_ParserError_Returns401(t *testing.T) {
	parser := &mockTokenParser{parseFn: func(string) (*auth.Claims, error) {
		return nil, errors.New("unexpected")
	}}
	handler := NewSessionMiddleware(parser)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestWalletAddressFromContext(t *testing.T) {
	if _, err := WalletAddressFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}

	addr, err := WalletAddressFromContext(ContextWithWalletAddress(context.Background(), "0xdef"))
	if err != nil || addr != "0xdef" {
		t.Errorf("got (%q, %v), want 0xdef", addr, err)
	}
}

func TestAdminKeyMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{"matching key", "admin-secret", "admin-secret", http.StatusOK},
		{"wrong key", "admin-secret", "guess", http.StatusUnauthorized},
		{"missing key", "admin-secret", "", http.StatusUnauthorized},
		{"unconfigured", "", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAdminKeyMiddleware(tt.configured)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
			if tt.header != "" {
				req.Header.Set(AdminKeyHeader, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized && !bytesContains(w.Body.Bytes(), model.ErrCodeUnauthorized) {
				t.Errorf("body = %s, want unified unauthorized error", w.Body.String())
			}
		})
	}
}
