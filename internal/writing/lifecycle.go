package writing

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/penpal/internal/convlog"
	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/observability"
	"github.com/ashureev/penpal/internal/store"
)

// MaxTopicChars bounds a session topic.
const MaxTopicChars = 200

// StartResult describes a newly opened session.
type StartResult struct {
	SessionID    string
	AIMessage    string
	MessageCount int
}

// Lifecycle opens sessions and serves the read views around them.
type Lifecycle struct {
	ledger store.LedgerStore
	oracle Oracle
	cfg    Config
	deps
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(ledger store.LedgerStore, oracle Oracle, cfg Config, opts ...Option) *Lifecycle {
	return &Lifecycle{
		ledger: ledger,
		oracle: oracle,
		cfg:    cfg,
		deps:   newDeps(opts),
	}
}

// StartSession opens a session about topic with the oracle's opening question
// as message 1. The question is generated before anything is written so a
// session never exists without its opening turn.
func (l *Lifecycle) StartSession(ctx context.Context, userID, topic string) (*StartResult, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", domain.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(topic) > MaxTopicChars {
		return nil, fmt.Errorf("%w: topic exceeds %d characters", domain.ErrInvalidArgument, MaxTopicChars)
	}

	question := l.oracle.GenerateInitialQuestion(ctx, topic)

	session, opening, err := l.ledger.CreateSessionWithOpening(ctx, userID, topic, question)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	if l.metrics != nil {
		l.metrics.SessionsStarted.Inc()
	}
	observability.LoggerFromContext(ctx).Info("writing session started",
		"session_id", session.ID,
		"user_id", userID,
	)
	l.convlog.Log(convlog.Event{
		UserID:    userID,
		SessionID: session.ID,
		Channel:   "writing_http",
		Direction: "internal",
		EventType: convlog.EventSessionStarted,
		Meta:      map[string]any{"topic": topic},
	})
	l.convlog.Log(convlog.Event{
		UserID:     userID,
		SessionID:  session.ID,
		Channel:    "writing_http",
		Direction:  "inbound",
		EventType:  convlog.EventAITurn,
		ContentRaw: opening.Content,
		Meta:       map[string]any{"order": opening.Order},
	})

	return &StartResult{
		SessionID:    session.ID,
		AIMessage:    opening.Content,
		MessageCount: 1,
	}, nil
}

// GetHistory returns the user's unreviewed mistakes, newest first.
func (l *Lifecycle) GetHistory(ctx context.Context, userID string) ([]domain.Mistake, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	limit := l.cfg.HistoryPageSize
	if limit <= 0 {
		limit = DefaultConfig().HistoryPageSize
	}
	mistakes, err := l.ledger.ListMistakesByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list mistakes: %w", err)
	}
	return mistakes, nil
}

// ListSessions returns the user's sessions, newest first.
func (l *Lifecycle) ListSessions(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	sessions, err := l.ledger.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Transcript returns a session and its ordered messages.
func (l *Lifecycle) Transcript(ctx context.Context, userID, sessionID string) (*domain.WritingSession, []domain.Message, error) {
	if userID == "" {
		return nil, nil, domain.ErrUnauthenticated
	}
	session, err := l.ledger.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil || !session.OwnedBy(userID) {
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	messages, err := l.ledger.ListMessagesOrdered(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}
	return session, messages, nil
}
