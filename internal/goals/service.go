// Package goals tracks weekly practice goals and streaks.
package goals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/penpal/internal/domain"
)

// Store is the persistence the goal service needs.
type Store interface {
	GetOrCreateGoal(ctx context.Context, userID string) (*domain.Goal, error)
	UpsertGoal(ctx context.Context, goal *domain.Goal) error
	ListReminderGoals(ctx context.Context) ([]*domain.Goal, error)
	CompletedSessionTimes(ctx context.Context, userID string, since time.Time, limit int) ([]time.Time, error)
}

// Update is a partial goal change. Nil fields keep their current value.
type Update struct {
	WeeklySessionGoal *int
	ReminderEnabled   *bool
	ReminderTime      *string
	ReminderTimezone  *string
}

// Service reads and updates goals.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a Service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Get returns the user's goal and current progress against it.
func (s *Service) Get(ctx context.Context, userID string) (*domain.Goal, domain.GoalProgress, error) {
	goal, err := s.store.GetOrCreateGoal(ctx, userID)
	if err != nil {
		return nil, domain.GoalProgress{}, fmt.Errorf("load goal: %w", err)
	}
	progress, err := s.Progress(ctx, userID)
	if err != nil {
		return nil, domain.GoalProgress{}, err
	}
	return goal, progress, nil
}

// Progress computes weekly completions and the current streak.
func (s *Service) Progress(ctx context.Context, userID string) (domain.GoalProgress, error) {
	now := s.now()
	completions, err := s.store.CompletedSessionTimes(ctx, userID, now.Add(-domain.StreakLookback), domain.StreakSessionLimit)
	if err != nil {
		return domain.GoalProgress{}, fmt.Errorf("load completions: %w", err)
	}
	return domain.ComputeProgress(completions, now), nil
}

// Update applies u to the user's goal and returns the result.
func (s *Service) Update(ctx context.Context, userID string, u Update) (*domain.Goal, domain.GoalProgress, error) {
	goal, err := s.store.GetOrCreateGoal(ctx, userID)
	if err != nil {
		return nil, domain.GoalProgress{}, fmt.Errorf("load goal: %w", err)
	}

	if u.WeeklySessionGoal != nil {
		goal.WeeklySessionGoal = *u.WeeklySessionGoal
	}
	if u.ReminderEnabled != nil {
		goal.ReminderEnabled = *u.ReminderEnabled
	}
	if u.ReminderTime != nil {
		goal.ReminderTime = strings.TrimSpace(*u.ReminderTime)
	}
	if u.ReminderTimezone != nil {
		tz := strings.TrimSpace(*u.ReminderTimezone)
		if tz == "" {
			goal.ReminderTimezone = nil
		} else {
			goal.ReminderTimezone = &tz
		}
	}
	if err := goal.Validate(); err != nil {
		return nil, domain.GoalProgress{}, err
	}

	goal.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertGoal(ctx, goal); err != nil {
		return nil, domain.GoalProgress{}, fmt.Errorf("save goal: %w", err)
	}
	progress, err := s.Progress(ctx, userID)
	if err != nil {
		return nil, domain.GoalProgress{}, err
	}
	return goal, progress, nil
}

// DueReminder is a goal whose reminder fires now with the weekly target unmet.
type DueReminder struct {
	Goal     *domain.Goal
	Progress domain.GoalProgress
}

// DueReminders lists reminders whose time fell within the last window.
func (s *Service) DueReminders(ctx context.Context, window time.Duration) ([]DueReminder, error) {
	goals, err := s.store.ListReminderGoals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reminder goals: %w", err)
	}

	now := s.now()
	var due []DueReminder
	for _, g := range goals {
		if !g.ReminderDue(now, window) {
			continue
		}
		progress, err := s.Progress(ctx, g.UserID)
		if err != nil {
			return nil, err
		}
		if progress.GoalMet(g) {
			continue
		}
		due = append(due, DueReminder{Goal: g, Progress: progress})
	}
	return due, nil
}
