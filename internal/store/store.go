// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/penpal/internal/domain"
)

// StepCommit is everything one state machine step writes. It is applied in a
// single transaction: either every write lands or none does.
type StepCommit struct {
	SessionID string
	// Messages are appended in order; the first must carry order count+1 and
	// the rest must be contiguous.
	Messages []domain.NewMessage
	// Mistake is recorded when non-nil.
	Mistake *domain.NewMistake
	// Complete seals the session after the messages are appended.
	Complete bool
}

// StepReceipt holds the rows a CommitStep created.
type StepReceipt struct {
	Messages []domain.Message
	Mistake  *domain.Mistake
}

// LedgerStore is the durable ordered record of writing sessions.
type LedgerStore interface {
	// CreateSession inserts a new IN_PROGRESS session for userID.
	CreateSession(ctx context.Context, userID, topic string) (*domain.WritingSession, error)

	// CreateSessionWithOpening creates a session and its order-1 AI message in
	// one transaction.
	CreateSessionWithOpening(ctx context.Context, userID, topic, opening string) (*domain.WritingSession, *domain.Message, error)

	// GetSession retrieves a session by ID. Returns (nil, nil) if absent.
	GetSession(ctx context.Context, sessionID string) (*domain.WritingSession, error)

	// ListSessionsByUser returns session summaries with message counts, newest first.
	ListSessionsByUser(ctx context.Context, userID string) ([]domain.SessionSummary, error)

	// AppendMessage appends msg if and only if msg.Order equals the current
	// count plus one. Otherwise it fails with domain.ErrOrderConflict.
	// Appending to a COMPLETED session fails with domain.ErrSessionClosed.
	AppendMessage(ctx context.Context, sessionID string, msg domain.NewMessage) (*domain.Message, error)

	// CountMessages returns the number of messages in the session.
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// AppendMistake records a mistake. Fails with domain.ErrNotFound if the
	// session does not exist.
	AppendMistake(ctx context.Context, sessionID string, m domain.NewMistake) (*domain.Mistake, error)

	// MarkCompleted seals the session. Completing a COMPLETED session is a no-op.
	MarkCompleted(ctx context.Context, sessionID string) error

	// ListMessagesOrdered returns the session's messages ascending by order.
	ListMessagesOrdered(ctx context.Context, sessionID string) ([]domain.Message, error)

	// CommitStep applies a StepCommit atomically.
	CommitStep(ctx context.Context, c StepCommit) (*StepReceipt, error)

	// ListMistakesByUser returns unreviewed mistakes across the user's
	// sessions, newest first, at most limit rows.
	ListMistakesByUser(ctx context.Context, userID string, limit int) ([]domain.Mistake, error)

	// CompletedSessionTimes returns completion times of the user's sessions
	// completed at or after since, newest first, at most limit rows.
	CompletedSessionTimes(ctx context.Context, userID string, since time.Time, limit int) ([]time.Time, error)
}

// UserStore persists registered users.
type UserStore interface {
	// CreateUser inserts a user. A duplicate email fails with domain.ErrAlreadyExists.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by ID. Returns (nil, nil) if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByEmail retrieves a user by email. Returns (nil, nil) if absent.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// TokenStore records session tokens revoked before their expiry.
type TokenStore interface {
	// RevokeToken denies the token with id jti until expiresAt. Revoking a
	// revoked token is a no-op.
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error

	// IsTokenRevoked reports whether jti was revoked.
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// AccountStore is what sign-in needs: users and their revoked tokens.
type AccountStore interface {
	UserStore
	TokenStore
}

// FlashcardStore persists vocabulary flashcards.
type FlashcardStore interface {
	// UpsertFlashcard creates the card or updates the existing card with the
	// same user and source text. Reports whether a new card was created.
	UpsertFlashcard(ctx context.Context, card *domain.Flashcard) (bool, error)

	// ListFlashcards returns the user's cards, newest first.
	ListFlashcards(ctx context.Context, userID string) ([]domain.Flashcard, error)
}

// GoalStore persists practice goals.
type GoalStore interface {
	// GetOrCreateGoal returns the user's goal, creating the default one first
	// if none exists.
	GetOrCreateGoal(ctx context.Context, userID string) (*domain.Goal, error)

	// UpsertGoal creates or replaces the user's goal.
	UpsertGoal(ctx context.Context, goal *domain.Goal) error

	// ListReminderGoals returns every goal with reminders enabled.
	ListReminderGoals(ctx context.Context) ([]*domain.Goal, error)
}

// Repository is the full persistence surface of the application.
type Repository interface {
	LedgerStore
	AccountStore
	FlashcardStore
	GoalStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
