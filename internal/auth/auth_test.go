package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T) *service {
	t.Helper()
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return NewService(Operator{Username: "operator", PasswordHash: hash}, "test-secret", time.Hour)
}

func TestLoginAndValidate(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.Login(context.Background(), "operator", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tok.Value == "" || tok.ExpiresAt.IsZero() {
		t.Fatalf("unexpected token: %+v", tok)
	}
	user, err := svc.ValidateToken(context.Background(), tok.Value)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if user != "operator" {
		t.Errorf("subject = %q, want operator", user)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	svc := newTestService(t)
	for _, tc := range []struct{ user, pass string }{
		{"operator", "wrong"},
		{"intruder", "hunter2"},
	} {
		if _, err := svc.Login(context.Background(), tc.user, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q, %q) = %v, want ErrInvalidCredentials", tc.user, tc.pass, err)
		}
	}
}

func TestLogin_NoHashConfigured(t *testing.T) {
	svc := NewService(Operator{Username: "operator"}, "s", time.Hour)
	if _, err := svc.Login(context.Background(), "operator", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newTestService(t)
	tok, err := svc.Login(context.Background(), "operator", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	other := NewService(Operator{}, "other-secret", time.Hour)
	if _, err := other.ValidateToken(context.Background(), tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.ValidateToken(context.Background(), tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: got %v", err)
	}

	if _, err := svc.ValidateToken(context.Background(), "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token: got %v", err)
	}
}

func TestLoginHandler(t *testing.T) {
	h := NewHandler(newTestService(t), nil, "", slog.New(slog.NewJSONHandler(io.Discard, nil)))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"ok", `{"username":"operator","password":"hunter2"}`, http.StatusOK},
		{"wrong password", `{"username":"operator","password":"nope"}`, http.StatusUnauthorized},
		{"missing fields", `{"username":"operator"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Login(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusOK {
				var tok Token
				if err := json.NewDecoder(rec.Body).Decode(&tok); err != nil || tok.Value == "" {
					t.Errorf("bad token body: %v %+v", err, tok)
				}
			}
		})
	}
}
