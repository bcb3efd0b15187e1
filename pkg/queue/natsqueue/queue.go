// Package natsqueue carries scoring jobs between the API and worker processes over NATS.
package natsqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/noah-isme/esg-compliance-api/pkg/config"
	"github.com/noah-isme/esg-compliance-api/pkg/resilience"
)

// Handler processes one message payload.
type Handler func(ctx context.Context, payload []byte) error

type publisher interface {
	Publish(subject string, data []byte) error
}

// Queue publishes to and consumes from a single subject.
type Queue struct {
	conn     *nats.Conn
	pub      publisher
	subject  string
	group    string
	retries  int
	delay    time.Duration
	executor *resilience.Executor
	logger   *zap.Logger
}

// Connect dials NATS using cfg. executor may be nil to publish without retries.
func Connect(cfg config.NATSConfig, name string, executor *resilience.Executor, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name(name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		pub:      conn,
		subject:  cfg.Subject,
		group:    cfg.QueueGroup,
		retries:  cfg.HandlerRetries,
		delay:    cfg.HandlerRetryDelay,
		executor: executor,
		logger:   logger,
	}, nil
}

// Close releases the connection.
func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Ping reports whether the connection is currently usable.
func (q *Queue) Ping() error {
	if q.conn == nil || !q.conn.IsConnected() {
		return nats.ErrDisconnected
	}
	return nil
}

// Publish sends payload on the configured subject.
func (q *Queue) Publish(ctx context.Context, payload []byte) error {
	call := func(context.Context) error {
		if err := q.pub.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if q.executor == nil {
		return call(ctx)
	}
	return q.executor.Execute(ctx, "nats.publish", call, Classify)
}

// Subscribe consumes the subject in the configured queue group until ctx is
// done, then drains in-flight messages. Core NATS does not redeliver, so a
// failing handler is retried in place with doubling delays.
func (q *Queue) Subscribe(ctx context.Context, handler Handler) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if err := q.deliver(ctx, handler, msg.Data); err != nil {
			q.logger.Error("scoring message dropped", zap.String("subject", msg.Subject), zap.Int("retries", q.retries), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	q.logger.Info("nats subscription ready", zap.String("subject", q.subject), zap.String("group", q.group))

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) deliver(ctx context.Context, handler Handler, payload []byte) error {
	delay := q.delay
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := handler(ctx, payload)
		if err == nil || attempt >= q.retries {
			return err
		}
		q.logger.Warn("scoring message failed, retrying", zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

// Classify marks connection level NATS failures as retryable.
func Classify(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrReconnectBufExceeded) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
