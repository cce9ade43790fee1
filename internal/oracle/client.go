// Package oracle talks to the external grammar and question generation
// service. Every call fails open: transport, status and parse failures are
// logged and answered with a fallback value, never returned to the caller.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/penpal/internal/domain"
	"github.com/ashureev/penpal/internal/metrics"
	"github.com/ashureev/penpal/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Operation names used in logs and metrics.
const (
	OpCheckGrammar    = "check_grammar"
	OpImprove         = "improve"
	OpNextQuestion    = "next_question"
	OpInitialQuestion = "initial_question"
)

const maxResponseBytes = 1 << 20

var errUnconfigured = errors.New("oracle api key not configured")

// Config configures the oracle client.
type Config struct {
	BaseURL          string
	APIKey           string
	Model            string
	Timeout          time.Duration
	RetryBudget      int
	FeedbackLanguage string
	// Transport overrides the base transport; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	baseURL          string
	apiKey           string
	model            string
	feedbackLanguage string
	timeout          time.Duration
	httpClient       *http.Client
	metrics          *metrics.Metrics
	warnOnce         sync.Once
}

// New creates a Client. A nil metrics disables metric recording.
func New(cfg Config, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.FeedbackLanguage == "" {
		cfg.FeedbackLanguage = "Vietnamese"
	}

	transport := otelhttp.NewTransport(newRetryTransport(cfg.Transport, cfg.RetryBudget))

	return &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:           cfg.APIKey,
		model:            cfg.Model,
		feedbackLanguage: cfg.FeedbackLanguage,
		timeout:          cfg.Timeout,
		httpClient:       &http.Client{Transport: transport},
		metrics:          m,
	}
}

// Configured reports whether the client will attempt network calls.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type grammarResponse struct {
	IsCorrect  *bool  `json:"isCorrect"`
	Error      string `json:"error"`
	Correction string `json:"correction"`
}

// CheckGrammar grades sentence. On any failure it returns a correct verdict
// with Fallback set.
func (c *Client) CheckGrammar(ctx context.Context, sentence string) domain.GrammarVerdict {
	start := time.Now()
	content, err := c.complete(ctx, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: grammarPrompt(c.feedbackLanguage)},
			{Role: "user", Content: sentence},
		},
		Temperature:    temperatureGrammar,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})

	var verdict domain.GrammarVerdict
	if err == nil {
		verdict, err = parseGrammar(content)
	}
	if err != nil {
		c.fail(ctx, OpCheckGrammar, start, err)
		return domain.GrammarVerdict{IsCorrect: true, Fallback: true}
	}

	c.metrics.RecordOracleCall(OpCheckGrammar, false, time.Since(start).Seconds())
	return verdict
}

func parseGrammar(content string) (domain.GrammarVerdict, error) {
	var parsed grammarResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.GrammarVerdict{}, fmt.Errorf("parse grammar verdict: %w", err)
	}
	if parsed.IsCorrect == nil {
		return domain.GrammarVerdict{}, errors.New("grammar verdict missing isCorrect")
	}
	return domain.GrammarVerdict{
		IsCorrect:  *parsed.IsCorrect,
		Error:      strings.TrimSpace(parsed.Error),
		Correction: strings.TrimSpace(parsed.Correction),
	}, nil
}

// GenerateImprovement suggests a more natural phrasing. On failure the
// sentence is returned unchanged.
func (c *Client) GenerateImprovement(ctx context.Context, sentence string) string {
	return c.text(ctx, OpImprove, sentence, chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: improvementPrompt},
			{Role: "user", Content: fmt.Sprintf("Improve this sentence: %q", sentence)},
		},
		Temperature: temperatureImprovement,
	})
}

// GenerateNextQuestion continues the conversation given prior "ROLE: content"
// turns.
func (c *Client) GenerateNextQuestion(ctx context.Context, topic string, priorTurns []string) string {
	return c.text(ctx, OpNextQuestion, FallbackNextQuestion, chatRequest{
		Messages:    nextQuestionMessages(topic, priorTurns),
		Temperature: temperatureQuestion,
	})
}

// GenerateInitialQuestion opens a conversation about topic.
func (c *Client) GenerateInitialQuestion(ctx context.Context, topic string) string {
	return c.text(ctx, OpInitialQuestion, FallbackInitialQuestion, chatRequest{
		Messages:    initialQuestionMessages(topic),
		Temperature: temperatureQuestion,
	})
}

func (c *Client) text(ctx context.Context, op, fallback string, req chatRequest) string {
	start := time.Now()
	content, err := c.complete(ctx, req)
	if err != nil {
		c.fail(ctx, op, start, err)
		return fallback
	}
	c.metrics.RecordOracleCall(op, false, time.Since(start).Seconds())
	return content
}

func (c *Client) fail(ctx context.Context, op string, start time.Time, err error) {
	c.metrics.RecordOracleCall(op, true, time.Since(start).Seconds())
	if errors.Is(err, errUnconfigured) {
		c.warnOnce.Do(func() {
			observability.LoggerFromContext(ctx).Warn("oracle not configured, using fallback answers")
		})
		return
	}
	observability.LoggerFromContext(ctx).Warn("oracle call failed, using fallback",
		"operation", op,
		"error", err,
	)
}

// complete performs one chat completion bounded by the client timeout and
// returns the trimmed content of the first choice. Blank content is an error.
func (c *Client) complete(ctx context.Context, req chatRequest) (string, error) {
	if !c.Configured() {
		return "", errUnconfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req.Model = c.model
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle responded %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("oracle error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("no response choices returned")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("empty response content")
	}
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
