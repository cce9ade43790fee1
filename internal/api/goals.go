package api

import (
	"net/http"
	"time"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/goals"
	"github.com/ashureev/penpal/internal/identity"
	"github.com/go-chi/chi/v5"
)

// GoalHandler serves practice goals and progress.
type GoalHandler struct {
	*Handler
	goals *goals.Service
}

// NewGoalHandler creates a GoalHandler.
func NewGoalHandler(base *Handler, svc *goals.Service) *GoalHandler {
	return &GoalHandler{Handler: base, goals: svc}
}

// RegisterRoutes registers goal routes on the /api router.
func (h *GoalHandler) RegisterRoutes(r chi.Router) {
	r.Route("/goals", func(r chi.Router) {
		r.Use(identity.RequireUser)
		r.Get("/", h.Get)
		r.Post("/", h.Update)
	})
}

type goalRequest struct {
	WeeklySessionGoal *int    `json:"weeklySessionGoal,omitempty"`
	ReminderEnabled   *bool   `json:"reminderEnabled,omitempty"`
	ReminderTime      *string `json:"reminderTime,omitempty"`
	ReminderTimezone  *string `json:"reminderTimezone,omitempty"`
}

type goalResponse struct {
	WeeklySessionGoal int     `json:"weeklySessionGoal"`
	ReminderEnabled   bool    `json:"reminderEnabled"`
	ReminderTime      string  `json:"reminderTime"`
	ReminderTimezone  *string `json:"reminderTimezone"`
}

type progressResponse struct {
	WeeklyCompleted int        `json:"weeklyCompleted"`
	StreakDays      int        `json:"streakDays"`
	LastCompletedAt *time.Time `json:"lastCompletedAt"`
	WeekStart       time.Time  `json:"weekStart"`
	WeekEnd         time.Time  `json:"weekEnd"`
}

func writeGoal(w http.ResponseWriter, g *domain.Goal, p domain.GoalProgress) {
	JSON(w, http.StatusOK, map[string]any{
		"goal": goalResponse{
			WeeklySessionGoal: g.WeeklySessionGoal,
			ReminderEnabled:   g.ReminderEnabled,
			ReminderTime:      g.ReminderTime,
			ReminderTimezone:  g.ReminderTimezone,
		},
		"progress": progressResponse{
			WeeklyCompleted: p.WeeklyCompleted,
			StreakDays:      p.StreakDays,
			LastCompletedAt: p.LastCompletedAt,
			WeekStart:       p.WeekStart,
			WeekEnd:         p.WeekEnd,
		},
	})
}

// Get returns the caller's goal and progress.
func (h *GoalHandler) Get(w http.ResponseWriter, r *http.Request) {
	goal, progress, err := h.goals.Get(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	writeGoal(w, goal, progress)
}

// Update changes the caller's goal.
func (h *GoalHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}

	goal, progress, err := h.goals.Update(r.Context(), identity.UserIDFromContext(r.Context()), goals.Update{
		WeeklySessionGoal: req.WeeklySessionGoal,
		ReminderEnabled:   req.ReminderEnabled,
		ReminderTime:      req.ReminderTime,
		ReminderTimezone:  req.ReminderTimezone,
	})
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	writeGoal(w, goal, progress)
}
