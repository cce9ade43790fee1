package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/shared"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type sessionRow struct {
	ID          string        `db:"id"`
	UserID      string        `db:"user_id"`
	Topic       string        `db:"topic"`
	Status      string        `db:"status"`
	CreatedAt   int64         `db:"created_at"`
	CompletedAt sql.NullInt64 `db:"completed_at"`
}

func (r sessionRow) toDomain() *domain.WritingSession {
	return &domain.WritingSession{
		ID:        r.ID,
		UserID:    r.UserID,
		Topic:     r.Topic,
		Status:    domain.SessionStatus(r.Status),
		CreatedAt: fromMillis(r.CreatedAt),
	}
}

type summaryRow struct {
	ID           string `db:"id"`
	Topic        string `db:"topic"`
	Status       string `db:"status"`
	CreatedAt    int64  `db:"created_at"`
	MessageCount int64  `db:"message_count"`
}

type messageRow struct {
	ID          string         `db:"id"`
	SessionID   string         `db:"session_id"`
	Role        string         `db:"role"`
	Content     string         `db:"content"`
	OrderIndex  int64          `db:"order_index"`
	IsCorrect   sql.NullInt64  `db:"is_correct"`
	Improvement sql.NullString `db:"improvement"`
	CreatedAt   int64          `db:"created_at"`
}

func (r messageRow) toDomain() domain.Message {
	m := domain.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      domain.Role(r.Role),
		Content:   r.Content,
		Order:     int(r.OrderIndex),
		CreatedAt: fromMillis(r.CreatedAt),
	}
	if r.IsCorrect.Valid {
		m.IsCorrect = domain.BoolPtr(r.IsCorrect.Int64 != 0)
	}
	if r.Improvement.Valid {
		improvement := r.Improvement.String
		m.Improvement = &improvement
	}
	return m
}

type mistakeRow struct {
	ID          string `db:"id"`
	SessionID   string `db:"session_id"`
	Original    string `db:"original"`
	Correction  string `db:"correction"`
	Explanation string `db:"explanation"`
	Reviewed    int64  `db:"reviewed"`
	CreatedAt   int64  `db:"created_at"`
}

func (r mistakeRow) toDomain() domain.Mistake {
	return domain.Mistake{
		ID:          r.ID,
		SessionID:   r.SessionID,
		Original:    r.Original,
		Correction:  r.Correction,
		Explanation: r.Explanation,
		Reviewed:    r.Reviewed != 0,
		CreatedAt:   fromMillis(r.CreatedAt),
	}
}

// CreateSession inserts a new IN_PROGRESS session for userID.
func (s *SQLStore) CreateSession(ctx context.Context, userID, topic string) (*domain.WritingSession, error) {
	session := &domain.WritingSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Topic:     topic,
		Status:    domain.SessionInProgress,
		CreatedAt: fromMillis(s.nowMillis()),
	}

	query := s.db.Rebind(`
		INSERT INTO writing_sessions (id, user_id, topic, status, created_at)
		VALUES (?, ?, ?, ?, ?)`)

	err := s.retryBusy(ctx, "create_session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.ID, session.UserID, session.Topic, string(session.Status), session.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

// CreateSessionWithOpening creates a session and its opening AI message
// atomically so a session is never visible without its first turn.
func (s *SQLStore) CreateSessionWithOpening(ctx context.Context, userID, topic, opening string) (*domain.WritingSession, *domain.Message, error) {
	var (
		session *domain.WritingSession
		first   *domain.Message
	)
	err := s.retryBusy(ctx, "create_session", func() (err error) {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create session: %w", err)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()

		now := s.nowMillis()
		session = &domain.WritingSession{
			ID:        uuid.NewString(),
			UserID:    userID,
			Topic:     topic,
			Status:    domain.SessionInProgress,
			CreatedAt: fromMillis(now),
		}
		if _, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO writing_sessions (id, user_id, topic, status, created_at)
			VALUES (?, ?, ?, ?, ?)`),
			session.ID, session.UserID, session.Topic, string(session.Status), now); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		first, err = s.appendMessage(ctx, tx, session.ID, domain.NewMessage{
			Role: domain.RoleAI, Content: opening, Order: 1,
		}, now)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, nil, err
	}
	return session, first, nil
}

// GetSession retrieves a session by ID.
func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*domain.WritingSession, error) {
	query := s.db.Rebind(`
		SELECT id, user_id, topic, status, created_at, completed_at
		FROM writing_sessions WHERE id = ?`)

	var row sessionRow
	err := s.db.GetContext(ctx, &row, query, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toDomain(), nil
}

// ListSessionsByUser returns session summaries with message counts, newest first.
func (s *SQLStore) ListSessionsByUser(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	query := s.db.Rebind(`
		SELECT s.id, s.topic, s.status, s.created_at, COUNT(m.id) AS message_count
		FROM writing_sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		WHERE s.user_id = ?
		GROUP BY s.id, s.topic, s.status, s.created_at
		ORDER BY s.created_at DESC, s.id DESC`)

	var rows []summaryRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	summaries := make([]domain.SessionSummary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, domain.SessionSummary{
			ID:           r.ID,
			Topic:        r.Topic,
			Status:       domain.SessionStatus(r.Status),
			MessageCount: int(r.MessageCount),
			CreatedAt:    fromMillis(r.CreatedAt),
		})
	}
	return summaries, nil
}

// CountMessages returns the number of messages in the session.
func (s *SQLStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int64
	query := s.db.Rebind(`SELECT COUNT(*) FROM messages WHERE session_id = ?`)
	if err := s.db.GetContext(ctx, &count, query, sessionID); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return int(count), nil
}

// ListMessagesOrdered returns the session's messages ascending by order.
func (s *SQLStore) ListMessagesOrdered(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := s.db.Rebind(`
		SELECT id, session_id, role, content, order_index, is_correct, improvement, created_at
		FROM messages WHERE session_id = ?
		ORDER BY order_index ASC`)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, r.toDomain())
	}
	return messages, nil
}

// execer is satisfied by both *sqlx.DB and *sqlx.Tx.
type execer interface {
	sqlx.ExecerContext
	sqlx.QueryerContext
	Rebind(query string) string
}

// appendMessage is the compare-and-append primitive. The row is inserted only
// when the session is IN_PROGRESS and holds exactly msg.Order-1 messages. The
// unique (session_id, order_index) index rejects whatever slips past the
// count check under concurrent writers.
func (s *SQLStore) appendMessage(ctx context.Context, q execer, sessionID string, msg domain.NewMessage, now int64) (*domain.Message, error) {
	if msg.Order < 1 {
		return nil, fmt.Errorf("%w: message order must be positive", domain.ErrInvalidArgument)
	}

	var isCorrect any
	if msg.IsCorrect != nil {
		isCorrect = boolToInt(*msg.IsCorrect)
	}
	var improvement any
	if msg.Improvement != nil {
		improvement = *msg.Improvement
	}

	id := uuid.NewString()
	query := q.Rebind(`
		INSERT INTO messages (id, session_id, role, content, order_index, is_correct, improvement, created_at)
		SELECT ?, ?, ?, ?, CAST(? AS INTEGER), CAST(? AS INTEGER), ?, CAST(? AS BIGINT)
		WHERE (SELECT COUNT(*) FROM messages WHERE session_id = ?) = ?
		  AND EXISTS (SELECT 1 FROM writing_sessions WHERE id = ? AND status = ?)`)

	result, err := q.ExecContext(ctx, query,
		id, sessionID, string(msg.Role), msg.Content, msg.Order, isCorrect, improvement, now,
		sessionID, msg.Order-1,
		sessionID, string(domain.SessionInProgress),
	)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return nil, fmt.Errorf("append message %d: %w", msg.Order, domain.ErrOrderConflict)
		}
		return nil, fmt.Errorf("append message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, s.diagnoseRejectedAppend(ctx, q, sessionID, msg.Order)
	}

	return &domain.Message{
		ID:          id,
		SessionID:   sessionID,
		Role:        msg.Role,
		Content:     msg.Content,
		Order:       msg.Order,
		IsCorrect:   msg.IsCorrect,
		Improvement: msg.Improvement,
		CreatedAt:   fromMillis(now),
	}, nil
}

// diagnoseRejectedAppend explains why a conditional insert wrote nothing.
func (s *SQLStore) diagnoseRejectedAppend(ctx context.Context, q execer, sessionID string, order int) error {
	var status string
	err := sqlx.GetContext(ctx, q, &status, q.Rebind(`SELECT status FROM writing_sessions WHERE id = ?`), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read session status: %w", err)
	}
	if domain.SessionStatus(status) == domain.SessionCompleted {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionClosed)
	}
	return fmt.Errorf("append message %d: %w", order, domain.ErrOrderConflict)
}

// AppendMessage appends msg if msg.Order is exactly the current count plus one.
func (s *SQLStore) AppendMessage(ctx context.Context, sessionID string, msg domain.NewMessage) (*domain.Message, error) {
	var appended *domain.Message
	err := s.retryBusy(ctx, "append_message", func() error {
		m, err := s.appendMessage(ctx, s.db, sessionID, msg, s.nowMillis())
		appended = m
		return err
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

func (s *SQLStore) appendMistake(ctx context.Context, q execer, sessionID string, m domain.NewMistake, now int64) (*domain.Mistake, error) {
	id := uuid.NewString()
	query := q.Rebind(`
		INSERT INTO mistakes (id, session_id, original, correction, explanation, reviewed, created_at)
		SELECT ?, ?, ?, ?, ?, 0, CAST(? AS BIGINT)
		WHERE EXISTS (SELECT 1 FROM writing_sessions WHERE id = ?)`)

	result, err := q.ExecContext(ctx, query,
		id, sessionID, m.Original, m.Correction, m.Explanation, now, sessionID)
	if err != nil {
		return nil, fmt.Errorf("insert mistake: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}

	return &domain.Mistake{
		ID:          id,
		SessionID:   sessionID,
		Original:    m.Original,
		Correction:  m.Correction,
		Explanation: m.Explanation,
		CreatedAt:   fromMillis(now),
	}, nil
}

// AppendMistake records a mistake against an existing session.
func (s *SQLStore) AppendMistake(ctx context.Context, sessionID string, m domain.NewMistake) (*domain.Mistake, error) {
	var recorded *domain.Mistake
	err := s.retryBusy(ctx, "append_mistake", func() error {
		mistake, err := s.appendMistake(ctx, s.db, sessionID, m, s.nowMillis())
		recorded = mistake
		return err
	})
	if err != nil {
		return nil, err
	}
	return recorded, nil
}

func (s *SQLStore) markCompleted(ctx context.Context, q execer, sessionID string, now int64) error {
	query := q.Rebind(`
		UPDATE writing_sessions SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?`)

	result, err := q.ExecContext(ctx, query,
		string(domain.SessionCompleted), now, sessionID, string(domain.SessionInProgress))
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = sqlx.GetContext(ctx, q, &exists, q.Rebind(`SELECT 1 FROM writing_sessions WHERE id = ?`), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	// Already COMPLETED.
	return nil
}

// MarkCompleted seals the session. It is idempotent.
func (s *SQLStore) MarkCompleted(ctx context.Context, sessionID string) error {
	return s.retryBusy(ctx, "mark_completed", func() error {
		return s.markCompleted(ctx, s.db, sessionID, s.nowMillis())
	})
}

// CommitStep applies every write of one state machine step in a single
// transaction.
func (s *SQLStore) CommitStep(ctx context.Context, c StepCommit) (*StepReceipt, error) {
	if len(c.Messages) == 0 {
		return nil, fmt.Errorf("%w: step commit has no messages", domain.ErrInvalidArgument)
	}
	for i := 1; i < len(c.Messages); i++ {
		if c.Messages[i].Order != c.Messages[i-1].Order+1 {
			return nil, fmt.Errorf("%w: step commit orders are not contiguous", domain.ErrInvalidArgument)
		}
	}

	var receipt *StepReceipt
	err := s.retryBusy(ctx, "commit_step", func() error {
		r, err := s.commitStepOnce(ctx, c)
		receipt = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *SQLStore) commitStepOnce(ctx context.Context, c StepCommit) (receipt *StepReceipt, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin step: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.nowMillis()
	receipt = &StepReceipt{Messages: make([]domain.Message, 0, len(c.Messages))}

	for _, msg := range c.Messages {
		appended, appendErr := s.appendMessage(ctx, tx, c.SessionID, msg, now)
		if appendErr != nil {
			return nil, appendErr
		}
		receipt.Messages = append(receipt.Messages, *appended)
	}

	if c.Mistake != nil {
		receipt.Mistake, err = s.appendMistake(ctx, tx, c.SessionID, *c.Mistake, now)
		if err != nil {
			return nil, err
		}
	}

	if c.Complete {
		if err = s.markCompleted(ctx, tx, c.SessionID, now); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		if shared.IsUniqueViolation(err) {
			return nil, fmt.Errorf("commit step: %w", domain.ErrOrderConflict)
		}
		return nil, fmt.Errorf("commit step: %w", err)
	}
	return receipt, nil
}

// ListMistakesByUser returns unreviewed mistakes across the user's sessions,
// newest first.
func (s *SQLStore) ListMistakesByUser(ctx context.Context, userID string, limit int) ([]domain.Mistake, error) {
	query := s.db.Rebind(`
		SELECT m.id, m.session_id, m.original, m.correction, m.explanation, m.reviewed, m.created_at
		FROM mistakes m
		JOIN writing_sessions s ON s.id = m.session_id
		WHERE s.user_id = ? AND m.reviewed = 0
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`)

	var rows []mistakeRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list mistakes: %w", err)
	}

	mistakes := make([]domain.Mistake, 0, len(rows))
	for _, r := range rows {
		mistakes = append(mistakes, r.toDomain())
	}
	return mistakes, nil
}

// CompletedSessionTimes returns completion times of the user's sessions.
// Progress is keyed on when a session was finished, not when it was started.
func (s *SQLStore) CompletedSessionTimes(ctx context.Context, userID string, since time.Time, limit int) ([]time.Time, error) {
	query := s.db.Rebind(`
		SELECT completed_at FROM writing_sessions
		WHERE user_id = ? AND status = ? AND completed_at >= ?
		ORDER BY completed_at DESC
		LIMIT ?`)

	var stamps []int64
	if err := s.db.SelectContext(ctx, &stamps, query,
		userID, string(domain.SessionCompleted), since.UnixMilli(), limit); err != nil {
		return nil, fmt.Errorf("list completed sessions: %w", err)
	}

	times := make([]time.Time, 0, len(stamps))
	for _, ms := range stamps {
		times = append(times, fromMillis(ms))
	}
	return times, nil
}
