package goals

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *store.SQLStore) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "penpal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewService(s), s
}

func createUser(t *testing.T, s *store.SQLStore) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, s.CreateUser(context.Background(), &domain.User{ID: id, Email: id + "@example.com", PasswordHash: "x"}))
	return id
}

func completeSession(t *testing.T, s *store.SQLStore, userID string) {
	t.Helper()
	ctx := context.Background()
	session, err := s.CreateSession(ctx, userID, "Food")
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, session.ID))
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestGetDefaultsAndProgress(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	userID := createUser(t, s)

	completeSession(t, s, userID)
	completeSession(t, s, userID)
	_, err := s.CreateSession(ctx, userID, "Unfinished")
	require.NoError(t, err)

	goal, progress, err := svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultWeeklySessionGoal, goal.WeeklySessionGoal)
	assert.Equal(t, domain.DefaultReminderTime, goal.ReminderTime)
	assert.False(t, goal.ReminderEnabled)
	assert.Equal(t, 2, progress.WeeklyCompleted)
	assert.Equal(t, 1, progress.StreakDays)
	require.NotNil(t, progress.LastCompletedAt)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	userID := createUser(t, s)

	goal, _, err := svc.Update(ctx, userID, Update{
		WeeklySessionGoal: intPtr(5),
		ReminderEnabled:   boolPtr(true),
		ReminderTime:      strPtr("07:30"),
		ReminderTimezone:  strPtr("Asia/Ho_Chi_Minh"),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, goal.WeeklySessionGoal)

	got, _, err := svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, got.ReminderEnabled)
	assert.Equal(t, "07:30", got.ReminderTime)
	require.NotNil(t, got.ReminderTimezone)
	assert.Equal(t, "Asia/Ho_Chi_Minh", *got.ReminderTimezone)

	// Partial update keeps the other fields.
	_, _, err = svc.Update(ctx, userID, Update{ReminderTimezone: strPtr("")})
	require.NoError(t, err)
	got, _, err = svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, got.ReminderTimezone)
	assert.Equal(t, 5, got.WeeklySessionGoal)

	for _, bad := range []Update{
		{WeeklySessionGoal: intPtr(0)},
		{WeeklySessionGoal: intPtr(51)},
		{ReminderTime: strPtr("7pm")},
		{ReminderTimezone: strPtr("Mars/Olympus")},
	} {
		_, _, err := svc.Update(ctx, userID, bad)
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument), "update %+v: %v", bad, err)
	}
}

func TestDueReminders(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	now := time.Now().UTC().Truncate(time.Minute)
	svc.now = func() time.Time { return now }
	current := now.Format("15:04")
	other := now.Add(time.Hour).Format("15:04")

	due := createUser(t, s)
	notDueYet := createUser(t, s)
	goalMet := createUser(t, s)
	disabled := createUser(t, s)

	for _, g := range []*domain.Goal{
		{UserID: due, WeeklySessionGoal: 3, ReminderEnabled: true, ReminderTime: current},
		{UserID: notDueYet, WeeklySessionGoal: 3, ReminderEnabled: true, ReminderTime: other},
		{UserID: goalMet, WeeklySessionGoal: 1, ReminderEnabled: true, ReminderTime: current},
		{UserID: disabled, WeeklySessionGoal: 3, ReminderEnabled: false, ReminderTime: current},
	} {
		g.UpdatedAt = now
		require.NoError(t, s.UpsertGoal(ctx, g))
	}
	completeSession(t, s, goalMet)

	reminders, err := svc.DueReminders(ctx, time.Minute)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, due, reminders[0].Goal.UserID)
	assert.Zero(t, reminders[0].Progress.WeeklyCompleted)
}
