package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// ContentPart is a multimodal content fragment, grounded on the teacher's
// LLMMessage.Parts design.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// LLMMessage is one turn in a conversation sent to a Provider.
type LLMMessage struct {
	Role       entity.Role          `json:"role"`
	Content    string               `json:"content"`
	Parts      []ContentPart        `json:"parts,omitempty"`
	ToolCalls  []entity.ToolCallInfo `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	Name       string               `json:"name,omitempty"`
}

// ToolSchema describes one callable tool for the provider's function-calling
// surface.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// LLMRequest is sent to a Provider for one turn of completion.
type LLMRequest struct {
	Model       string       `json:"model"`
	Messages    []LLMMessage `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

// LLMResponse is the provider's reply to one completion request.
type LLMResponse struct {
	Content    string
	ToolCalls  []entity.ToolCallInfo
	ModelUsed  string
	TokensUsed int
}

// ProviderError carries enough of the HTTP response to drive the §4.5
// retry/backoff rules without the caller needing provider-specific details.
type ProviderError struct {
	StatusCode int
	RetryAfter time.Duration // zero if the provider gave no explicit hint
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider error (status %d): %s: %v", e.StatusCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Provider is the interface implemented by each LLM vendor adapter
// (anthropic.go, openai.go), grounded on the teacher's LLMClient interface
// but collapsed to a single synchronous call — SafeClaw's transport is a
// Telegram message, not a token stream, so there is no user-facing benefit
// to the teacher's GenerateStream delta channel.
type Provider interface {
	// Complete sends one request and returns the full response.
	Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error)
	// Name identifies the provider for audit logging and /status.
	Name() string
}

// retryConfig holds the §4.5 retry policy constants.
type retryConfig struct {
	MaxRetries int
	BaseWait   time.Duration
	MaxWait    time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{MaxRetries: 3, BaseWait: 2 * time.Second, MaxWait: 90 * time.Second}
}

// CallWithRetry wraps a Provider.Complete call with the §4.5 429 handling:
// prefer the Retry-After header, fall back to a body hint, otherwise back
// off exponentially as 2ⁿ·2s capped at 90s, for up to 3 retries. Other
// transient errors (5xx, timeouts) use the same backoff; non-retryable
// errors (4xx other than 429, auth failures) fail immediately.
func CallWithRetry(ctx context.Context, logger *zap.Logger, call func(ctx context.Context) (*LLMResponse, error)) (*LLMResponse, error) {
	cfg := defaultRetryConfig()
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffFor(lastErr, attempt, cfg)
			logger.Info("retrying provider call",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := call(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, fmt.Errorf("non-retryable provider error: %w", err)
		}
	}

	return nil, fmt.Errorf("provider call failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// backoffFor picks the wait duration for the upcoming attempt. A 429 with
// an explicit Retry-After hint is honored verbatim (capped at MaxWait);
// everything else uses exponential backoff.
func backoffFor(err error, attempt int, cfg retryConfig) time.Duration {
	var perr *ProviderError
	if errors.As(err, &perr) && perr.StatusCode == http.StatusTooManyRequests && perr.RetryAfter > 0 {
		if perr.RetryAfter > cfg.MaxWait {
			return cfg.MaxWait
		}
		return perr.RetryAfter
	}
	wait := cfg.BaseWait * time.Duration(1<<uint(attempt-1))
	if wait > cfg.MaxWait {
		wait = cfg.MaxWait
	}
	return wait
}

// isRetryable classifies provider errors: 429 and 5xx are retryable,
// network-transient errors are retryable, everything else (401/403/400
// and context cancellation) is not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		switch perr.StatusCode {
		case http.StatusTooManyRequests:
			return true
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
			return false
		}
		if perr.StatusCode >= 500 {
			return true
		}
		if perr.StatusCode >= 400 {
			return false
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"context canceled", "unauthorized", "invalid api key", "bad request"} {
		if strings.Contains(errStr, pattern) {
			return false
		}
	}
	for _, pattern := range []string{"timeout", "deadline exceeded", "connection reset", "eof", "rate limit", "too many requests", "overloaded"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// ParseRetryAfter interprets an HTTP Retry-After header, which may be
// either a delay in seconds or an HTTP-date, per RFC 7231 §7.1.3.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}
