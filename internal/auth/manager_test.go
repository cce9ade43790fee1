package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type fakeUsers struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
	revoked map[string]time.Time
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byID:    map[string]*domain.User{},
		byEmail: map[string]*domain.User{},
		revoked: map[string]time.Time{},
	}
}

func (f *fakeUsers) RevokeToken(_ context.Context, jti string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = expiresAt
	return nil
}

func (f *fakeUsers) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[jti]
	return ok, nil
}

func (f *fakeUsers) CreateUser(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[u.Email]; ok {
		return domain.ErrAlreadyExists
	}
	f.byID[u.ID] = u
	f.byEmail[u.Email] = u
	return nil
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id], nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byEmail[email], nil
}

func newTestManager(secret string) *Manager {
	m := NewManager(newFakeUsers(), secret, time.Hour)
	m.cost = bcrypt.MinCost
	return m
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	m := newTestManager("secret")

	res, err := m.Register(ctx, "  Learner@Example.com ", "correct horse", "Lan")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.User.Email != "learner@example.com" {
		t.Errorf("email not normalized: %q", res.User.Email)
	}
	if res.User.PasswordHash == "correct horse" {
		t.Error("password stored in clear text")
	}

	claims, err := m.ValidateToken(ctx, res.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != res.User.ID {
		t.Errorf("claims user = %q, want %q", claims.UserID, res.User.ID)
	}

	if _, err := m.Login(ctx, "LEARNER@example.com", "correct horse"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := m.Login(ctx, "learner@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() with bad password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := m.Login(ctx, "nobody@example.com", "correct horse"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("Login() with unknown email error = %v, want ErrUnauthenticated", err)
	}

	if _, err := m.Register(ctx, "learner@example.com", "another pass", ""); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate Register() error = %v, want ErrAlreadyExists", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	m := newTestManager("secret")
	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", "long enough"},
		{"malformed email", "not-an-email", "long enough"},
		{"display name form", "Lan <lan@example.com>", "long enough"},
		{"short password", "lan@example.com", "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Register(context.Background(), tt.email, tt.password, "")
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("Register() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestValidateToken(t *testing.T) {
	m := newTestManager("secret")
	user := &domain.User{ID: "user-1", Email: "a@example.com"}

	t.Run("expired", func(t *testing.T) {
		token, _, err := m.GenerateToken(user)
		if err != nil {
			t.Fatal(err)
		}
		later := *m
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		if _, err := later.ValidateToken(context.Background(), token); !errors.Is(err, domain.ErrUnauthenticated) {
			t.Errorf("expected expired token to be rejected, got %v", err)
		}
	})

	t.Run("other secret", func(t *testing.T) {
		token, _, err := newTestManager("other").GenerateToken(user)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.ValidateToken(context.Background(), token); err == nil {
			t.Error("expected token signed with another secret to be rejected")
		}
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := &Claims{UserID: "user-1", RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.ValidateToken(context.Background(), token); err == nil {
			t.Error("expected unsigned token to be rejected")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := m.ValidateToken(context.Background(), "not.a.token"); err == nil {
			t.Error("expected garbage to be rejected")
		}
	})
}

func TestLogoutRevokesToken(t *testing.T) {
	ctx := context.Background()
	m := newTestManager("secret")

	res, err := m.Register(ctx, "lan@example.com", "correct horse", "")
	if err != nil {
		t.Fatal(err)
	}
	other, err := m.Login(ctx, "lan@example.com", "correct horse")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Logout(ctx, res.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := m.ValidateToken(ctx, res.Token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("revoked token still valid, err = %v", err)
	}
	if err := m.Logout(ctx, res.Token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("second Logout() error = %v, want ErrUnauthenticated", err)
	}
	if _, err := m.ValidateToken(ctx, other.Token); err != nil {
		t.Errorf("token from another sign-in was revoked: %v", err)
	}
}

func TestRandomSecretWhenUnset(t *testing.T) {
	a := NewManager(newFakeUsers(), "", time.Hour)
	b := NewManager(newFakeUsers(), "", time.Hour)
	if string(a.jwtSecret) == string(b.jwtSecret) {
		t.Error("expected distinct random secrets")
	}
	if len(a.jwtSecret) != 64 {
		t.Errorf("secret length = %d, want 64 hex chars", len(a.jwtSecret))
	}
}
