// Package writing implements the writing session state machine and the
// session lifecycle around it.
//
// A session alternates AI prompts and user submissions. Each submission is
// one Step: it is graded by the oracle, then either rejected (the user message
// and a mistake are recorded, no AI turn follows) or accepted (the user
// message and, unless the session just reached its message cap, the next AI
// question are appended). The ledger is the only state; nothing about a
// session is cached between steps.
package writing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/penpal/internal/convlog"
	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/metrics"
	"github.com/ashureev/penpal/internal/observability"
	"github.com/ashureev/penpal/internal/store"
	"github.com/ashureev/penpal/internal/telemetry"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultMistakeExplanation is recorded when the oracle flags a sentence
// without saying why.
const DefaultMistakeExplanation = "Grammar error"

const defaultConflictRetryDelay = 50 * time.Millisecond

// Oracle grades sentences and generates conversation turns. Implementations
// fail open and never return errors.
type Oracle interface {
	CheckGrammar(ctx context.Context, sentence string) domain.GrammarVerdict
	GenerateImprovement(ctx context.Context, sentence string) string
	GenerateNextQuestion(ctx context.Context, topic string, priorTurns []string) string
	GenerateInitialQuestion(ctx context.Context, topic string) string
}

// Config tunes the state machine.
type Config struct {
	// MaxMessages is the inclusive message count, both roles, at which an
	// accepted submission completes the session.
	MaxMessages int
	// ConflictRetries bounds how often a step is recomputed after losing an
	// order race.
	ConflictRetries    int
	MaxSubmissionChars int
	HistoryPageSize    int
	ImprovementEnabled bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessages:        8,
		ConflictRetries:    2,
		MaxSubmissionChars: 2000,
		HistoryPageSize:    50,
		ImprovementEnabled: true,
	}
}

// StepResult is the outcome of one submission.
type StepResult struct {
	IsCorrect bool
	// Rejection fields.
	Error      string
	Suggestion string
	// Acceptance fields. AIMessage is empty when the session completed.
	AIMessage    string
	Improvement  string
	MessageCount int
	IsCompleted  bool
	// Fallback is set when the grammar oracle was unavailable.
	Fallback bool
}

// Option configures an Engine or Lifecycle.
type Option func(*deps)

type deps struct {
	metrics    *metrics.Metrics
	convlog    convlog.Logger
	retryDelay time.Duration
}

// WithMetrics records step and session metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *deps) { d.metrics = m }
}

// WithConversationLog mirrors submissions and AI turns to l.
func WithConversationLog(l convlog.Logger) Option {
	return func(d *deps) { d.convlog = l }
}

func newDeps(opts []Option) deps {
	d := deps{
		convlog:    convlog.Noop{},
		retryDelay: defaultConflictRetryDelay,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// Engine runs state machine steps against a ledger.
type Engine struct {
	ledger store.LedgerStore
	oracle Oracle
	cfg    Config
	deps
}

// NewEngine creates an Engine.
func NewEngine(ledger store.LedgerStore, oracle Oracle, cfg Config, opts ...Option) *Engine {
	return &Engine{
		ledger: ledger,
		oracle: oracle,
		cfg:    cfg,
		deps:   newDeps(opts),
	}
}

// Step processes one user submission for sessionID on behalf of userID.
//
// Errors: domain.ErrUnauthenticated, domain.ErrInvalidArgument,
// domain.ErrNotFound (absent or owned by someone else), domain.ErrSessionClosed
// (terminal) and domain.ErrOrderConflict (retryable, returned only after the
// configured retries were spent). Oracle failures are never returned.
func (e *Engine) Step(ctx context.Context, userID, sessionID, userMessage string) (*StepResult, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "writing.Step",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	result, err := e.step(ctx, userID, sessionID, userMessage)

	outcome := stepOutcome(result, err)
	e.metrics.RecordStep(outcome, time.Since(start).Seconds())
	span.SetAttributes(attribute.String("step.outcome", outcome))
	if err != nil && outcome == metrics.OutcomeError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func stepOutcome(result *StepResult, err error) string {
	switch {
	case err == nil && !result.IsCorrect:
		return metrics.OutcomeRejected
	case err == nil && result.IsCompleted:
		return metrics.OutcomeCompleted
	case err == nil:
		return metrics.OutcomeAccepted
	case errors.Is(err, domain.ErrOrderConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, domain.ErrSessionClosed):
		return metrics.OutcomeClosed
	case errors.Is(err, domain.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnauthenticated):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}

func (e *Engine) validate(userID, sessionID, userMessage string) (string, error) {
	if userID == "" {
		return "", domain.ErrUnauthenticated
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("%w: sessionId is required", domain.ErrInvalidArgument)
	}
	sentence := strings.TrimSpace(userMessage)
	if sentence == "" {
		return "", fmt.Errorf("%w: userMessage is required", domain.ErrInvalidArgument)
	}
	if e.cfg.MaxSubmissionChars > 0 && utf8.RuneCountInString(sentence) > e.cfg.MaxSubmissionChars {
		return "", fmt.Errorf("%w: userMessage exceeds %d characters", domain.ErrInvalidArgument, e.cfg.MaxSubmissionChars)
	}
	return sentence, nil
}

// resolveSession loads the session and checks ownership and status. A
// session owned by someone else is reported exactly like a missing one.
func (e *Engine) resolveSession(ctx context.Context, userID, sessionID string) (*domain.WritingSession, error) {
	session, err := e.ledger.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil || !session.OwnedBy(userID) {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if session.IsCompleted() {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionClosed)
	}
	return session, nil
}

func (e *Engine) step(ctx context.Context, userID, sessionID, userMessage string) (*StepResult, error) {
	sentence, err := e.validate(userID, sessionID, userMessage)
	if err != nil {
		return nil, err
	}

	session, err := e.resolveSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	verdict := e.oracle.CheckGrammar(ctx, sentence)
	accepted := verdict.IsCorrect || verdict.Fallback
	if !accepted && domain.SameSentence(verdict.Correction, sentence) {
		observability.LoggerFromContext(ctx).Debug("grammar oracle flagged an unchanged sentence, accepting",
			"session_id", sessionID)
		accepted = true
	}

	if !accepted {
		return e.reject(ctx, session, sentence, verdict)
	}
	return e.accept(ctx, session, sentence, verdict)
}

// reject records the incorrect submission and its mistake. No AI turn is
// produced; the user resubmits.
func (e *Engine) reject(ctx context.Context, session *domain.WritingSession, sentence string, verdict domain.GrammarVerdict) (*StepResult, error) {
	explanation := verdict.Error
	if explanation == "" {
		explanation = DefaultMistakeExplanation
	}

	var userOrder int
	err := e.retryOnConflict(ctx, session, func(ctx context.Context) error {
		count, err := e.ledger.CountMessages(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("count messages: %w", err)
		}
		userOrder = count + 1

		_, err = e.ledger.CommitStep(ctx, store.StepCommit{
			SessionID: session.ID,
			Messages: []domain.NewMessage{{
				Role:      domain.RoleUser,
				Content:   sentence,
				Order:     userOrder,
				IsCorrect: domain.BoolPtr(false),
			}},
			Mistake: &domain.NewMistake{
				Original:    sentence,
				Correction:  verdict.Correction,
				Explanation: explanation,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.MistakesRecorded.Inc()
	}
	e.logSubmission(ctx, session, sentence, userOrder, false, verdict.Fallback)

	return &StepResult{
		IsCorrect:  false,
		Error:      verdict.Error,
		Suggestion: verdict.Correction,
	}, nil
}

// accept appends the accepted submission and either completes the session or
// appends the next AI question.
func (e *Engine) accept(ctx context.Context, session *domain.WritingSession, sentence string, verdict domain.GrammarVerdict) (*StepResult, error) {
	wantImprovement := e.cfg.ImprovementEnabled && !verdict.Fallback
	var (
		improvement     string
		haveImprovement bool
		result          *StepResult
	)

	err := e.retryOnConflict(ctx, session, func(ctx context.Context) error {
		count, err := e.ledger.CountMessages(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("count messages: %w", err)
		}
		userOrder := count + 1
		completed := userOrder >= e.cfg.MaxMessages

		var nextQuestion string
		g, gctx := errgroup.WithContext(ctx)
		if wantImprovement && !haveImprovement {
			g.Go(func() error {
				improvement = e.oracle.GenerateImprovement(gctx, sentence)
				return nil
			})
		}
		if !completed {
			g.Go(func() error {
				history, err := e.ledger.ListMessagesOrdered(gctx, session.ID)
				if err != nil {
					return fmt.Errorf("load history: %w", err)
				}
				turns := make([]string, 0, len(history)+1)
				for _, m := range history {
					turns = append(turns, m.Transcript())
				}
				turns = append(turns, domain.Message{Role: domain.RoleUser, Content: sentence}.Transcript())
				nextQuestion = e.oracle.GenerateNextQuestion(gctx, session.Topic, turns)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if wantImprovement {
			haveImprovement = true
		}

		messages := []domain.NewMessage{{
			Role:        domain.RoleUser,
			Content:     sentence,
			Order:       userOrder,
			IsCorrect:   domain.BoolPtr(true),
			Improvement: domain.StringPtr(improvement),
		}}
		if !completed {
			messages = append(messages, domain.NewMessage{
				Role:    domain.RoleAI,
				Content: nextQuestion,
				Order:   userOrder + 1,
			})
		}

		if _, err := e.ledger.CommitStep(ctx, store.StepCommit{
			SessionID: session.ID,
			Messages:  messages,
			Complete:  completed,
		}); err != nil {
			return err
		}

		result = &StepResult{
			IsCorrect:    true,
			Improvement:  improvement,
			MessageCount: userOrder,
			IsCompleted:  completed,
			Fallback:     verdict.Fallback,
		}
		if !completed {
			result.AIMessage = nextQuestion
			result.MessageCount = userOrder + 1
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	userOrder := result.MessageCount
	if !result.IsCompleted {
		userOrder--
	}
	e.logSubmission(ctx, session, sentence, userOrder, true, verdict.Fallback)
	if result.IsCompleted {
		e.convlog.Log(convlog.Event{
			UserID: session.UserID, SessionID: session.ID,
			Channel: "writing_http", Direction: "internal",
			EventType: convlog.EventSessionClosed,
			Meta:      map[string]any{"message_count": result.MessageCount},
		})
	} else {
		e.logAITurn(ctx, session, result.AIMessage, result.MessageCount)
	}
	return result, nil
}

// retryOnConflict runs attempt until it succeeds, fails with anything other
// than an order conflict, or the retry budget is spent. Attempts after the
// first re-read the session so a race lost to a completing step ends as
// ErrSessionClosed instead of another conflict.
func (e *Engine) retryOnConflict(ctx context.Context, session *domain.WritingSession, attempt func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryDelay

	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		if tries > 1 {
			if _, err := e.resolveSession(ctx, session.UserID, session.ID); err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		err := attempt(ctx)
		if err != nil && !errors.Is(err, domain.ErrOrderConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.cfg.ConflictRetries+1)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			if e.metrics != nil {
				e.metrics.StepRetries.Inc()
			}
			observability.LoggerFromContext(ctx).Info("message order conflict, recomputing step",
				"session_id", session.ID,
				"attempt", tries,
				"delay", delay,
			)
		}),
	)
	return err
}

func (e *Engine) logSubmission(ctx context.Context, session *domain.WritingSession, sentence string, order int, correct, fallback bool) {
	e.convlog.Log(convlog.Event{
		UserID:     session.UserID,
		SessionID:  session.ID,
		Channel:    "writing_http",
		Direction:  "outbound",
		EventType:  convlog.EventUserSubmission,
		ContentRaw: sentence,
		Meta: map[string]any{
			"order":      order,
			"is_correct": correct,
			"fallback":   fallback,
			"request_id": observability.RequestID(ctx),
		},
	})
}

func (e *Engine) logAITurn(ctx context.Context, session *domain.WritingSession, content string, order int) {
	e.convlog.Log(convlog.Event{
		UserID:     session.UserID,
		SessionID:  session.ID,
		Channel:    "writing_http",
		Direction:  "inbound",
		EventType:  convlog.EventAITurn,
		ContentRaw: content,
		Meta: map[string]any{
			"order":      order,
			"request_id": observability.RequestID(ctx),
		},
	})
}
