// Package llm defines the provider-neutral completion contract used by scoring.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/esg-compliance-api/pkg/resilience"
)

var (
	// ErrTimeout marks a single completion call that exceeded its own deadline.
	ErrTimeout = errors.New("completion call timed out")
	// ErrEmptyCompletion is returned when the provider answers without any text choice.
	ErrEmptyCompletion = errors.New("completion returned no choices")
)

// Request is one prompt sent to a completion provider.
type Request struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Response is the provider answer.
type Response struct {
	Text         string
	ModelVersion string
	TotalTokens  int
}

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Provider() string
}

// HTTPStatusError carries the upstream HTTP status of a failed completion.
type HTTPStatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("%s completion status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s completion status %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Message))
}

// CompleteWithTimeout bounds a single call. A deadline hit by the call itself
// (rather than by ctx) is reported as ErrTimeout so it can be retried.
func CompleteWithTimeout(ctx context.Context, c Client, req Request, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		return c.Complete(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.Complete(callCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s after %s: %w", c.Provider(), timeout, ErrTimeout)
	}
	return resp, err
}

// Classify maps completion failures onto retry behaviour: timeouts, rate
// limiting, 5xx responses, network errors and open breakers are transient.
func Classify(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, ErrTimeout) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if IsRetryableStatus(statusErr.StatusCode) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// IsRetryableStatus reports whether an upstream status is transient.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	default:
		return statusCode >= http.StatusInternalServerError
	}
}
