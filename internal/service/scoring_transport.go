package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/esg-compliance-api/pkg/jobs"
)

// ScoringJobType tags scoring jobs on the in-process queue.
const ScoringJobType = "file.score"

// ScoringJob is the message carried by every scoring transport.
type ScoringJob struct {
	FileID string `json:"file_id"`
}

// EncodeScoringJob serialises a job for a transport.
func EncodeScoringJob(fileID string) ([]byte, error) {
	return json.Marshal(ScoringJob{FileID: fileID})
}

// DecodeScoringJob parses a transport payload.
func DecodeScoringJob(payload []byte) (ScoringJob, error) {
	var job ScoringJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("decode scoring job: %w", err)
	}
	if strings.TrimSpace(job.FileID) == "" {
		return job, fmt.Errorf("decode scoring job: file_id missing")
	}
	return job, nil
}

// ScoringPublisher hands a file to the scoring pipeline.
type ScoringPublisher interface {
	PublishScoring(ctx context.Context, fileID string) error
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

// MemoryPublisher enqueues scoring jobs onto an in-process worker pool.
type MemoryPublisher struct {
	queue jobEnqueuer
}

// NewMemoryPublisher wraps an in-process queue.
func NewMemoryPublisher(queue jobEnqueuer) *MemoryPublisher {
	return &MemoryPublisher{queue: queue}
}

// PublishScoring enqueues the file.
func (p *MemoryPublisher) PublishScoring(ctx context.Context, fileID string) error {
	payload, err := EncodeScoringJob(fileID)
	if err != nil {
		return err
	}
	return p.queue.Enqueue(ctx, jobs.Job{ID: uuid.NewString(), Type: ScoringJobType, Payload: payload})
}

type payloadPublisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// BrokerPublisher publishes scoring jobs to an external broker subject.
type BrokerPublisher struct {
	broker payloadPublisher
}

// NewBrokerPublisher wraps a broker connection such as natsqueue.Queue.
func NewBrokerPublisher(broker payloadPublisher) *BrokerPublisher {
	return &BrokerPublisher{broker: broker}
}

// PublishScoring publishes the file id.
func (p *BrokerPublisher) PublishScoring(ctx context.Context, fileID string) error {
	payload, err := EncodeScoringJob(fileID)
	if err != nil {
		return err
	}
	return p.broker.Publish(ctx, payload)
}
