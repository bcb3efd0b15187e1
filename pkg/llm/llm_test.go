package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clientFunc func(ctx context.Context, req Request) (*Response, error)

func (f clientFunc) Complete(ctx context.Context, req Request) (*Response, error) { return f(ctx, req) }
func (clientFunc) Provider() string                                              { return "stub" }

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"timeout", ErrTimeout, true},
		{"rate limited", &HTTPStatusError{Provider: "openai", StatusCode: http.StatusTooManyRequests}, true},
		{"server error", &HTTPStatusError{Provider: "openai", StatusCode: http.StatusBadGateway}, true},
		{"bad request", &HTTPStatusError{Provider: "openai", StatusCode: http.StatusBadRequest}, false},
		{"unauthorized", &HTTPStatusError{Provider: "openai", StatusCode: http.StatusUnauthorized}, false},
		{"open breaker", gobreaker.ErrOpenState, true},
		{"cancelled", context.Canceled, false},
		{"unknown", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, Classify(tc.err).Retryable)
		})
	}
}

func TestCompleteWithTimeoutReportsCallTimeout(t *testing.T) {
	slow := clientFunc(func(ctx context.Context, _ Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := CompleteWithTimeout(context.Background(), slow, Request{}, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, Classify(err).Retryable)
}

func TestCompleteWithTimeoutKeepsParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := clientFunc(func(ctx context.Context, _ Request) (*Response, error) {
		return nil, ctx.Err()
	})

	_, err := CompleteWithTimeout(ctx, slow, Request{}, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, Classify(err).Retryable)
}

func TestRateLimitedDelegates(t *testing.T) {
	calls := 0
	next := clientFunc(func(_ context.Context, req Request) (*Response, error) {
		calls++
		return &Response{Text: req.Prompt}, nil
	})

	limited := NewRateLimited(next, 1000, 2)
	resp, err := limited.Complete(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "stub", limited.Provider())
	assert.Equal(t, 1, calls)
}

func TestRateLimitedDisabled(t *testing.T) {
	next := clientFunc(func(context.Context, Request) (*Response, error) { return &Response{}, nil })
	_, isWrapped := NewRateLimited(next, 0, 0).(*RateLimited)
	assert.False(t, isWrapped)
}

func TestRateLimitedHonoursContext(t *testing.T) {
	next := clientFunc(func(context.Context, Request) (*Response, error) { return &Response{}, nil })
	limited := NewRateLimited(next, 0.001, 1)
	_, err := limited.Complete(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = limited.Complete(ctx, Request{})
	require.Error(t, err)
}
