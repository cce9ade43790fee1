package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "penpal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// steppingClock returns a clock that advances one second per call so rows
// inserted back to back get distinct timestamps.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func createTestUser(t *testing.T, s *SQLStore, email string) *domain.User {
	t.Helper()
	u := &domain.User{ID: uuid.NewString(), Email: email, PasswordHash: "hash", Name: "Test"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func aiMessage(order int, content string) domain.NewMessage {
	return domain.NewMessage{Role: domain.RoleAI, Content: content, Order: order}
}

func userMessage(order int, content string, correct bool) domain.NewMessage {
	return domain.NewMessage{Role: domain.RoleUser, Content: content, Order: order, IsCorrect: domain.BoolPtr(correct)}
}

func TestLedger_AppendAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createTestUser(t, s, "a@example.com")

	session, err := s.CreateSession(ctx, u.ID, "Food")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionInProgress, session.Status)

	_, err = s.AppendMessage(ctx, session.ID, aiMessage(1, "What do you eat?"))
	require.NoError(t, err)

	improvement := "I eat rice every day."
	msg := userMessage(2, "I eat rice every day", true)
	msg.Improvement = &improvement
	_, err = s.AppendMessage(ctx, session.ID, msg)
	require.NoError(t, err)

	count, err := s.CountMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	messages, err := s.ListMessagesOrdered(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, 1, messages[0].Order)
	assert.Equal(t, domain.RoleAI, messages[0].Role)
	assert.Nil(t, messages[0].IsCorrect)
	assert.Equal(t, 2, messages[1].Order)
	require.NotNil(t, messages[1].IsCorrect)
	assert.True(t, *messages[1].IsCorrect)
	require.NotNil(t, messages[1].Improvement)
	assert.Equal(t, improvement, *messages[1].Improvement)
}

func TestLedger_AppendRejectsWrongOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createTestUser(t, s, "a@example.com")
	session, err := s.CreateSession(ctx, u.ID, "Travel")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, session.ID, aiMessage(2, "skipped a slot"))
	assert.ErrorIs(t, err, domain.ErrOrderConflict)

	_, err = s.AppendMessage(ctx, session.ID, aiMessage(1, "first"))
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, session.ID, aiMessage(1, "duplicate slot"))
	assert.ErrorIs(t, err, domain.ErrOrderConflict)

	_, err = s.AppendMessage(ctx, "missing", aiMessage(1, "nowhere"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedger_AppendToCompletedSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createTestUser(t, s, "a@example.com")
	session, err := s.CreateSession(ctx, u.ID, "Work")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, session.ID, aiMessage(1, "hello"))
	require.NoError(t, err)

	require.NoError(t, s.MarkCompleted(ctx, session.ID))

	_, err = s.AppendMessage(ctx, session.ID, userMessage(2, "late", true))
	assert.ErrorIs(t, err, domain.ErrSessionClosed)

	count, err := s.CountMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLedger_MarkCompletedIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createTestUser(t, s, "a@example.com")
	session, err := s.CreateSession(ctx, u.ID, "Music")
	require.NoError(t, err)

	require.NoError(t, s.MarkCompleted(ctx, session.ID))
	require.NoError(t, s.MarkCompleted(ctx, session.ID))

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.SessionCompleted, got.Status)

	assert.ErrorIs(t, s.MarkCompleted(ctx, "missing"), domain.ErrNotFound)
}

func TestLedger_GetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSession(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLedger_AppendMistake(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createTestUser(t, s, "a@example.com")
	session, err := s.CreateSession(ctx, u.ID, "Food")
	require.NoError(t, err)

	m, err := s.AppendMistake(ctx, session.ID, domain.NewMistake{
		Original: "I eat rice everyday", Correction: "I eat rice every day", Explanation: "spacing",
	})
	require.NoError(t, err)
	assert.False(t, m.Reviewed)

	_, err = s.AppendMistake(ctx, "missing", domain.NewMistake{Original: "x", Correction: "y", Explanation: "z"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedger_ConcurrentAppendRace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createTestUser(t, s, "a@example.com")
	session, err := s.CreateSession(ctx, u.ID, "Race")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, session.ID, aiMessage(1, "seed"))
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = s.CommitStep(ctx, StepCommit{
				SessionID: session.ID,
				Messages:  []domain.NewMessage{userMessage(2, "same slot", true), aiMessage(3, "reply")},
			})
		}(i)
	}
	close(start)
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case domain.IsRetryable(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)

	messages, err := s.ListMessagesOrdered(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, m := range messages {
		assert.Equal(t, i+1, m.Order)
	}
}

func TestLedger_CommitStepAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createTestUser(t, s, "a@example.com")
	session, err := s.CreateSession(ctx, u.ID, "Food")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, session.ID, aiMessage(1, "seed"))
	require.NoError(t, err)

	t.Run("rejection with mistake", func(t *testing.T) {
		receipt, err := s.CommitStep(ctx, StepCommit{
			SessionID: session.ID,
			Messages:  []domain.NewMessage{userMessage(2, "I eat rice everyday", false)},
			Mistake:   &domain.NewMistake{Original: "I eat rice everyday", Correction: "I eat rice every day", Explanation: "spacing"},
		})
		require.NoError(t, err)
		require.Len(t, receipt.Messages, 1)
		require.NotNil(t, receipt.Mistake)
	})

	t.Run("conflict writes nothing", func(t *testing.T) {
		_, err := s.CommitStep(ctx, StepCommit{
			SessionID: session.ID,
			Messages:  []domain.NewMessage{userMessage(2, "stale", true), aiMessage(3, "reply")},
			Mistake:   &domain.NewMistake{Original: "stale", Correction: "x", Explanation: "y"},
		})
		assert.ErrorIs(t, err, domain.ErrOrderConflict)

		count, err := s.CountMessages(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		mistakes, err := s.ListMistakesByUser(ctx, u.ID, 50)
		require.NoError(t, err)
		assert.Len(t, mistakes, 1)
	})

	t.Run("completion", func(t *testing.T) {
		_, err := s.CommitStep(ctx, StepCommit{
			SessionID: session.ID,
			Messages:  []domain.NewMessage{userMessage(3, "I eat rice every day.", true)},
			Complete:  true,
		})
		require.NoError(t, err)

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionCompleted, got.Status)

		_, err = s.CommitStep(ctx, StepCommit{
			SessionID: session.ID,
			Messages:  []domain.NewMessage{userMessage(4, "after the end", true)},
		})
		assert.ErrorIs(t, err, domain.ErrSessionClosed)
	})

	t.Run("non contiguous orders", func(t *testing.T) {
		_, err := s.CommitStep(ctx, StepCommit{
			SessionID: session.ID,
			Messages:  []domain.NewMessage{userMessage(4, "a", true), aiMessage(6, "b")},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestLedger_ListSessionsAndHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.now = steppingClock(time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC))

	alice := createTestUser(t, s, "alice@example.com")
	bob := createTestUser(t, s, "bob@example.com")

	food, err := s.CreateSession(ctx, alice.ID, "Food")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, food.ID, aiMessage(1, "seed"))
	require.NoError(t, err)
	travel, err := s.CreateSession(ctx, alice.ID, "Travel")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, bob.ID, "Bob's topic")
	require.NoError(t, err)

	sessions, err := s.ListSessionsByUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, travel.ID, sessions[0].ID)
	assert.Equal(t, 0, sessions[0].MessageCount)
	assert.Equal(t, "Food", sessions[1].Topic)
	assert.Equal(t, 1, sessions[1].MessageCount)
	assert.Equal(t, domain.SessionInProgress, sessions[1].Status)

	for i := 0; i < 3; i++ {
		_, err := s.AppendMistake(ctx, food.ID, domain.NewMistake{Original: "o", Correction: "c", Explanation: string(rune('a' + i))})
		require.NoError(t, err)
	}

	mistakes, err := s.ListMistakesByUser(ctx, alice.ID, 2)
	require.NoError(t, err)
	require.Len(t, mistakes, 2)
	assert.Equal(t, "c", mistakes[0].Explanation)
	assert.Equal(t, "b", mistakes[1].Explanation)

	none, err := s.ListMistakesByUser(ctx, bob.ID, 50)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedger_CompletedSessionTimes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)
	s.now = steppingClock(start)

	u := createTestUser(t, s, "a@example.com")
	done, err := s.CreateSession(ctx, u.ID, "Done")
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, done.ID))
	_, err = s.CreateSession(ctx, u.ID, "Open")
	require.NoError(t, err)

	times, err := s.CompletedSessionTimes(ctx, u.ID, start, 10)
	require.NoError(t, err)
	require.Len(t, times, 1)
	assert.True(t, times[0].After(start))

	later, err := s.CompletedSessionTimes(ctx, u.ID, start.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestLedger_CompletedSessionTimesUseCompletionTime(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sunday := time.Date(2026, time.October, 18, 23, 50, 0, 0, time.UTC)
	monday := sunday.Add(20 * time.Minute)

	s.now = func() time.Time { return sunday }
	u := createTestUser(t, s, "a@example.com")
	session, err := s.CreateSession(ctx, u.ID, "Late night")
	require.NoError(t, err)

	s.now = func() time.Time { return monday }
	require.NoError(t, s.MarkCompleted(ctx, session.ID))

	// A session started Sunday and finished Monday counts for Monday.
	times, err := s.CompletedSessionTimes(ctx, u.ID, domain.StartOfWeekUTC(monday), 10)
	require.NoError(t, err)
	require.Len(t, times, 1)
	assert.True(t, times[0].Equal(monday), "got %v", times[0])
}

func TestLedger_CreateSessionWithOpening(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := createTestUser(t, s, "a@example.com")

	session, first, err := s.CreateSessionWithOpening(ctx, u.ID, "Food", "What is your favourite dish?")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Order)
	assert.Equal(t, domain.RoleAI, first.Role)

	sessions, err := s.ListSessionsByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.ID, sessions[0].ID)
	assert.Equal(t, 1, sessions[0].MessageCount)

	_, _, err = s.CreateSessionWithOpening(ctx, "no-such-user", "Food", "hi")
	require.Error(t, err)
	count, err := s.CountMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
