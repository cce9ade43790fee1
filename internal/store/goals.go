package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ashureev/penpal/internal/domain"
)

type goalRow struct {
	UserID            string         `db:"user_id"`
	WeeklySessionGoal int64          `db:"weekly_session_goal"`
	ReminderEnabled   int64          `db:"reminder_enabled"`
	ReminderTime      string         `db:"reminder_time"`
	ReminderTimezone  sql.NullString `db:"reminder_timezone"`
	UpdatedAt         int64          `db:"updated_at"`
}

func (r goalRow) toDomain() *domain.Goal {
	g := &domain.Goal{
		UserID:            r.UserID,
		WeeklySessionGoal: int(r.WeeklySessionGoal),
		ReminderEnabled:   r.ReminderEnabled != 0,
		ReminderTime:      r.ReminderTime,
		UpdatedAt:         fromMillis(r.UpdatedAt),
	}
	if r.ReminderTimezone.Valid {
		tz := r.ReminderTimezone.String
		g.ReminderTimezone = &tz
	}
	return g
}

const goalColumns = `user_id, weekly_session_goal, reminder_enabled, reminder_time, reminder_timezone, updated_at`

// GetOrCreateGoal returns the user's goal, inserting the default first if
// none exists.
func (s *SQLStore) GetOrCreateGoal(ctx context.Context, userID string) (*domain.Goal, error) {
	def := domain.DefaultGoal(userID)
	insert := s.db.Rebind(`
		INSERT INTO goals (` + goalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`)

	err := s.retryBusy(ctx, "create_goal", func() error {
		_, err := s.db.ExecContext(ctx, insert,
			userID, def.WeeklySessionGoal, boolToInt(def.ReminderEnabled), def.ReminderTime, nil, s.nowMillis())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create default goal: %w", err)
	}

	var row goalRow
	err = s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+goalColumns+` FROM goals WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("goal for %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get goal: %w", err)
	}
	return row.toDomain(), nil
}

// UpsertGoal creates or replaces the user's goal.
func (s *SQLStore) UpsertGoal(ctx context.Context, goal *domain.Goal) error {
	now := s.nowMillis()

	var tz any
	if goal.ReminderTimezone != nil && *goal.ReminderTimezone != "" {
		tz = *goal.ReminderTimezone
	}

	query := s.db.Rebind(`
		INSERT INTO goals (` + goalColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			weekly_session_goal = excluded.weekly_session_goal,
			reminder_enabled = excluded.reminder_enabled,
			reminder_time = excluded.reminder_time,
			reminder_timezone = excluded.reminder_timezone,
			updated_at = excluded.updated_at`)

	err := s.retryBusy(ctx, "upsert_goal", func() error {
		_, err := s.db.ExecContext(ctx, query,
			goal.UserID, goal.WeeklySessionGoal, boolToInt(goal.ReminderEnabled), goal.ReminderTime, tz, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert goal: %w", err)
	}
	goal.UpdatedAt = fromMillis(now)
	return nil
}

// ListReminderGoals returns every goal with reminders enabled.
func (s *SQLStore) ListReminderGoals(ctx context.Context) ([]*domain.Goal, error) {
	var rows []goalRow
	query := `SELECT ` + goalColumns + ` FROM goals WHERE reminder_enabled = 1`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list reminder goals: %w", err)
	}

	goals := make([]*domain.Goal, 0, len(rows))
	for _, r := range rows {
		goals = append(goals, r.toDomain())
	}
	return goals, nil
}
