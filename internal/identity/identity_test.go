package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/penpal/internal/auth"
)

type fakeValidator map[string]string

func (f fakeValidator) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	if id, ok := f[token]; ok {
		return &auth.Claims{UserID: id, Email: id + "@example.com"}, nil
	}
	return nil, errors.New("invalid token")
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserIDFromContext(r.Context())))
	})
}

func TestMiddleware(t *testing.T) {
	handler := Middleware(fakeValidator{"good": "user-1", "other": "user-2"})(echoUser())

	tests := []struct {
		name    string
		prepare func(r *http.Request)
		want    string
	}{
		{"anonymous", func(*http.Request) {}, ""},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: "good"}) }, "user-1"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer other") }, "user-2"},
		{"bearer wins over cookie", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer other")
			r.AddCookie(&http.Cookie{Name: CookieName, Value: "good"})
		}, "user-2"},
		{"invalid token is anonymous", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: "forged"}) }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("user = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	handler := RequireUser(echoUser())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"unauthenticated"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(req.Context(), "user-1"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "user-1" {
		t.Fatalf("got %d %q, want 200 user-1", rec.Code, rec.Body.String())
	}
}

func TestSessionCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, "tok", time.Now().Add(time.Hour), false)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != "tok" || !cookies[0].HttpOnly || !cookies[0].Secure {
		t.Fatalf("unexpected cookie %+v", cookies)
	}

	rec = httptest.NewRecorder()
	ClearSessionCookie(rec, true)
	cookies = rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 || cookies[0].Secure {
		t.Fatalf("unexpected cleared cookie %+v", cookies)
	}
}

func TestIPFromRequest(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"203.0.113.7:51234", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.7", "203.0.113.7"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = tt.remote
		if got := IPFromRequest(req); got != tt.want {
			t.Errorf("IPFromRequest(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
