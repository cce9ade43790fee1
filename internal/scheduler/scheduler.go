// Package scheduler runs background jobs such as practice reminders.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/penpal/internal/goals"
	"github.com/ashureev/penpal/internal/metrics"
	"github.com/go-co-op/gocron"
)

const jobTimeout = 30 * time.Second

// ReminderSource lists reminders whose time fell within the last window.
type ReminderSource interface {
	DueReminders(ctx context.Context, window time.Duration) ([]goals.DueReminder, error)
}

// Notifier delivers a practice reminder.
type Notifier interface {
	NotifyPractice(ctx context.Context, r goals.DueReminder) error
}

// LogNotifier writes reminders to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

// NotifyPractice logs the reminder.
func (n LogNotifier) NotifyPractice(_ context.Context, r goals.DueReminder) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("practice reminder",
		"user_id", r.Goal.UserID,
		"weekly_goal", r.Goal.WeeklySessionGoal,
		"weekly_completed", r.Progress.WeeklyCompleted,
		"streak_days", r.Progress.StreakDays,
	)
	return nil
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	scheduler *gocron.Scheduler
	source    ReminderSource
	notifier  Notifier
	interval  time.Duration
	metrics   *metrics.Metrics
}

// New creates a Scheduler. A nil metrics disables metric recording.
func New(source ReminderSource, notifier Notifier, interval time.Duration, m *metrics.Metrics) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		source:    source,
		notifier:  notifier,
		interval:  interval,
		metrics:   m,
	}
}

// Start schedules the reminder job and runs the scheduler asynchronously.
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.interval).Do(s.sendReminders); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	s.scheduler.StartAsync()
	slog.Info("scheduler started", "reminder_interval", s.interval.String())
	return nil
}

// Stop terminates all scheduled tasks.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) sendReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.RunReminders(ctx); err != nil {
		slog.Error("reminder job failed", "error", err)
	}
}

// RunReminders notifies every due reminder once and returns how many were
// sent. A failed notification is logged and does not stop the others.
func (s *Scheduler) RunReminders(ctx context.Context) (int, error) {
	due, err := s.source.DueReminders(ctx, s.interval)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, r := range due {
		if err := s.notifier.NotifyPractice(ctx, r); err != nil {
			slog.Warn("practice reminder failed", "user_id", r.Goal.UserID, "error", err)
			continue
		}
		sent++
		if s.metrics != nil {
			s.metrics.RemindersSent.Inc()
		}
	}
	return sent, nil
}
