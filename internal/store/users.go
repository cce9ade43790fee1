package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/shared"
)

type userRow struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	Name         string `db:"name"`
	CreatedAt    int64  `db:"created_at"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Name:         r.Name,
		CreatedAt:    fromMillis(r.CreatedAt),
	}
}

// CreateUser inserts a user record.
func (s *SQLStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = fromMillis(s.nowMillis())
	}

	query := s.db.Rebind(`
		INSERT INTO users (id, email, password_hash, name, created_at)
		VALUES (?, ?, ?, ?, ?)`)

	err := s.retryBusy(ctx, "create_user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.ID, user.Email, user.PasswordHash, user.Name, user.CreatedAt.UnixMilli())
		return err
	})
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", user.Email, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.getUserBy(ctx, "id", userID)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUserBy(ctx, "email", email)
}

func (s *SQLStore) getUserBy(ctx context.Context, column, value string) (*domain.User, error) {
	query := s.db.Rebind(`
		SELECT id, email, password_hash, name, created_at
		FROM users WHERE ` + column + ` = ?`)

	var row userRow
	err := s.db.GetContext(ctx, &row, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return row.toDomain(), nil
}

// RevokeToken records jti as revoked and prunes entries past their expiry.
func (s *SQLStore) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	insert := s.db.Rebind(`
		INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		ON CONFLICT (jti) DO NOTHING`)
	prune := s.db.Rebind(`DELETE FROM revoked_tokens WHERE expires_at < ?`)

	err := s.retryBusy(ctx, "revoke_token", func() error {
		if _, err := s.db.ExecContext(ctx, insert, jti, expiresAt.UnixMilli()); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx, prune, s.nowMillis())
		return err
	})
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether jti was revoked.
func (s *SQLStore) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	query := s.db.Rebind(`SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?`)

	var n int
	if err := s.db.GetContext(ctx, &n, query, jti); err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}
