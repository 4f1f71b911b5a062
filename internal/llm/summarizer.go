// ABOUTME: Summarization client for any OpenAI-compatible chat completions API
// ABOUTME: Bounds each call with a timeout and classifies failures for callers

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// DefaultTimeout bounds one summarization call.
const DefaultTimeout = 30 * time.Second

var (
	// ErrNotConfigured indicates no API key was supplied.
	ErrNotConfigured = errors.New("summarizer is not configured")

	// ErrTimeout indicates the call did not finish in time.
	ErrTimeout = errors.New("summarizer timed out")

	// ErrEmptyResponse indicates the API answered without any text.
	ErrEmptyResponse = errors.New("summarizer returned no text")
)

// StatusError is a non-success HTTP status from the API.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("summarizer returned status %d", e.Code)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Summarizer turns text into a summary following an instruction.
type Summarizer interface {
	Summarize(ctx context.Context, instruction, text string) (string, error)
}

// Config holds connection settings for the API.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAISummarizer implements Summarizer with openai-go chat completions.
type OpenAISummarizer struct {
	client  openai.Client
	model   string
	timeout time.Duration
	enabled bool
	logger  *slog.Logger
}

// NewOpenAISummarizer creates a summarizer. Without an API key it is still
// returned, but every call fails with ErrNotConfigured.
func NewOpenAISummarizer(cfg Config, logger *slog.Logger) *OpenAISummarizer {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &OpenAISummarizer{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
		enabled: cfg.APIKey != "",
		logger:  logger.With("component", "llm"),
	}
}

// Summarize sends instruction as the system message and text as the user message.
func (s *OpenAISummarizer) Summarize(ctx context.Context, instruction, text string) (string, error) {
	if !s.enabled {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instruction),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", s.classify(ctx, err)
	}

	s.logger.Debug("summary completed",
		"model", s.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", ErrEmptyResponse
	}
	return summary, nil
}

func (s *OpenAISummarizer) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("calling summarizer: %w", err)
}
