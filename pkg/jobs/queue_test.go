package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestQueueProcessesJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	seen := make(map[string]string)
	done := make(chan struct{}, 3)

	q := NewQueue("scoring", func(_ context.Context, job Job) error {
		mu.Lock()
		seen[job.ID] = string(job.Payload)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())

	for _, id := range []string{"f1", "f2", "f3"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{ID: id, Type: "score_file", Payload: []byte(`{"file_id":"` + id + `"}`)}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 3)
	assert.Equal(t, `{"file_id":"f2"}`, seen["f2"])
}

func TestQueueRetriesThenReportsOutcome(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	outcome := make(chan error, 1)
	q := NewQueue("scoring", func(_ context.Context, _ Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{
		Workers:    1,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		OnDone:     func(_ Job, err error) { outcome <- err },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "f1"}))
	select {
	case err := <-outcome:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("permanent")
	outcome := make(chan Job, 1)
	q := NewQueue("scoring", func(context.Context, Job) error { return boom }, QueueConfig{
		Workers:    1,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		OnDone: func(job Job, err error) {
			assert.ErrorIs(t, err, boom)
			outcome <- job
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(context.Background(), Job{ID: "f1"}))
	select {
	case job := <-outcome:
		assert.Equal(t, 1, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("scoring", func(context.Context, Job) error { return nil }, QueueConfig{})
	err := q.Enqueue(context.Background(), Job{ID: "f1"})
	require.ErrorIs(t, err, ErrQueueStopped)
}

func TestQueueStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue("scoring", func(context.Context, Job) error { return nil }, QueueConfig{Workers: 3})
	q.Start(context.Background())
	q.Start(context.Background())
	q.Stop()
	q.Stop()

	require.ErrorIs(t, q.Enqueue(context.Background(), Job{ID: "late"}), ErrQueueStopped)
}
