package domain

import (
	"fmt"
	"regexp"
	"time"
)

const (
	DefaultWeeklySessionGoal = 3
	MinWeeklySessionGoal     = 1
	MaxWeeklySessionGoal     = 50
	DefaultReminderTime      = "19:00"

	// StreakLookback bounds how far back completed sessions are read.
	StreakLookback = 90 * 24 * time.Hour
	// StreakSessionLimit bounds how many completed sessions are read.
	StreakSessionLimit = 200
)

var reminderTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// Goal holds a learner's weekly practice target and reminder settings.
type Goal struct {
	UserID            string
	WeeklySessionGoal int
	ReminderEnabled   bool
	ReminderTime      string
	ReminderTimezone  *string
	UpdatedAt         time.Time
}

// DefaultGoal returns the goal a user starts with.
func DefaultGoal(userID string) *Goal {
	return &Goal{
		UserID:            userID,
		WeeklySessionGoal: DefaultWeeklySessionGoal,
		ReminderTime:      DefaultReminderTime,
	}
}

// Validate checks goal bounds and reminder formats.
func (g *Goal) Validate() error {
	if g.WeeklySessionGoal < MinWeeklySessionGoal || g.WeeklySessionGoal > MaxWeeklySessionGoal {
		return fmt.Errorf("%w: weeklySessionGoal must be between %d and %d", ErrInvalidArgument, MinWeeklySessionGoal, MaxWeeklySessionGoal)
	}
	if !reminderTimePattern.MatchString(g.ReminderTime) {
		return fmt.Errorf("%w: reminderTime must be HH:MM", ErrInvalidArgument)
	}
	if _, err := g.Location(); err != nil {
		return fmt.Errorf("%w: unknown reminderTimezone", ErrInvalidArgument)
	}
	return nil
}

// Location resolves the reminder timezone, defaulting to UTC.
func (g *Goal) Location() (*time.Location, error) {
	if g.ReminderTimezone == nil || *g.ReminderTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(*g.ReminderTimezone)
}

// ReminderDue reports whether the most recent occurrence of the reminder time,
// in the goal's timezone, falls in (now-window, now]. Consecutive windows of
// the same length fire each reminder exactly once. A non-positive window is
// one minute.
func (g *Goal) ReminderDue(now time.Time, window time.Duration) bool {
	if !g.ReminderEnabled {
		return false
	}
	if window <= 0 {
		window = time.Minute
	}
	loc, err := g.Location()
	if err != nil {
		return false
	}
	at, err := time.Parse("15:04", g.ReminderTime)
	if err != nil {
		return false
	}
	local := now.In(loc)
	last := time.Date(local.Year(), local.Month(), local.Day(), at.Hour(), at.Minute(), 0, 0, loc)
	if last.After(local) {
		last = last.AddDate(0, 0, -1)
	}
	return local.Sub(last) < window
}

// GoalProgress summarizes practice against a goal.
type GoalProgress struct {
	WeeklyCompleted int
	StreakDays      int
	LastCompletedAt *time.Time
	WeekStart       time.Time
	WeekEnd         time.Time
}

// StartOfWeekUTC returns Monday 00:00 UTC of the week containing t.
func StartOfWeekUTC(t time.Time) time.Time {
	t = t.UTC()
	diff := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-diff, 0, 0, 0, 0, time.UTC)
}

func dateKeyUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// StreakDays counts consecutive UTC days with at least one completion, ending
// today, or yesterday when nothing was completed today yet.
func StreakDays(completions []time.Time, now time.Time) int {
	days := make(map[string]struct{}, len(completions))
	for _, c := range completions {
		days[dateKeyUTC(c)] = struct{}{}
	}

	cursor := now.UTC()
	if _, ok := days[dateKeyUTC(cursor)]; !ok {
		cursor = cursor.AddDate(0, 0, -1)
	}

	streak := 0
	for {
		if _, ok := days[dateKeyUTC(cursor)]; !ok {
			return streak
		}
		streak++
		cursor = cursor.AddDate(0, 0, -1)
	}
}

// ComputeProgress derives goal progress from completion times.
func ComputeProgress(completions []time.Time, now time.Time) GoalProgress {
	weekStart := StartOfWeekUTC(now)
	weekEnd := weekStart.AddDate(0, 0, 7)

	progress := GoalProgress{
		StreakDays: StreakDays(completions, now),
		WeekStart:  weekStart,
		WeekEnd:    weekEnd,
	}
	for _, c := range completions {
		if !c.Before(weekStart) && c.Before(weekEnd) {
			progress.WeeklyCompleted++
		}
		if progress.LastCompletedAt == nil || c.After(*progress.LastCompletedAt) {
			last := c.UTC()
			progress.LastCompletedAt = &last
		}
	}
	return progress
}

// GoalMet reports whether the weekly goal has been reached.
func (p GoalProgress) GoalMet(g *Goal) bool {
	return p.WeeklyCompleted >= g.WeeklySessionGoal
}
