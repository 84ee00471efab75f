package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"judged/internal/common/mq"
	"judged/internal/judge/model"
	appErr "judged/pkg/errors"
	"judged/pkg/utils/logger"
)

// defaultMaxRetries bounds the retry pipeline per envelope.
const defaultMaxRetries = 3

// RetrySink publishes envelopes into the retry queue.
type RetrySink interface {
	SendToRetry(ctx context.Context, env model.RetryableEnvelope) error
}

// SubmissionStore marks permanently failed submissions.
type SubmissionStore interface {
	FinalizeSubmission(ctx context.Context, sub *model.Submission) (bool, error)
}

// ExecutionLogger appends audit lines.
type ExecutionLogger interface {
	Append(ctx context.Context, submissionID int64, level model.LogLevel, message string) error
}

// Config wires the dead-letter consumer
type Config struct {
	Broker     mq.Broker
	Retry      RetrySink
	Store      SubmissionStore
	ExecLog    ExecutionLogger
	MaxRetries int
}

// Consumer drains judge.failed: requests under the retry budget cycle back
// through judge.retry, exhausted ones are marked permanently failed.
type Consumer struct {
	cfg Config
}

// NewConsumer creates a dead-letter consumer.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Broker == nil || cfg.Retry == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("dlq consumer requires a broker and retry sink")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Consumer{cfg: cfg}, nil
}

// Run consumes the failed queue until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.cfg.Broker.Consume(ctx, mq.QueueFailed)
	if err != nil {
		return err
	}

	logger.Info(ctx, "dead-letter consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d mq.Delivery) {
	env, err := ParseEnvelope(d.Body)
	if err != nil {
		logger.Error(ctx, "unparseable dead letter dropped", zap.Error(err))
		if ackErr := d.Ack(); ackErr != nil {
			logger.Error(ctx, "ack failed", zap.Error(ackErr))
		}
		return
	}

	if env.LastError == "" {
		env.LastError = deathReason(d.Headers)
	}

	if env.RetryCount < c.cfg.MaxRetries {
		env.RetryCount++
		env.LastRetry = time.Now().UTC()
		if err := c.cfg.Retry.SendToRetry(ctx, env); err != nil {
			logger.Error(ctx, "retry publish failed, leaving message in dlq", zap.Error(err))
			if nackErr := d.Nack(true); nackErr != nil {
				logger.Error(ctx, "nack failed", zap.Error(nackErr))
			}
			return
		}
		logger.Info(ctx, "dead letter scheduled for retry",
			zap.Int64("submission_id", env.Request.SubmissionID),
			zap.Int("retry_count", env.RetryCount))
		if ackErr := d.Ack(); ackErr != nil {
			logger.Error(ctx, "ack failed", zap.Error(ackErr))
		}
		return
	}

	c.markPermanentFailure(ctx, env)
	if ackErr := d.Ack(); ackErr != nil {
		logger.Error(ctx, "ack failed", zap.Error(ackErr))
	}
}

func (c *Consumer) markPermanentFailure(ctx context.Context, env model.RetryableEnvelope) {
	subID := env.Request.SubmissionID
	msg := fmt.Sprintf("submission %d permanently failed after %d retries: %s",
		subID, env.RetryCount, env.LastError)

	logger.Error(ctx, "dead letter permanently failed",
		zap.Int64("submission_id", subID),
		zap.Int("retry_count", env.RetryCount),
		zap.String("last_error", env.LastError))

	if c.cfg.ExecLog != nil {
		if err := c.cfg.ExecLog.Append(ctx, subID, model.LogAudit, msg); err != nil {
			logger.Warn(ctx, "audit log write failed", zap.Error(err))
		}
	}

	if c.cfg.Store != nil {
		committed, err := c.cfg.Store.FinalizeSubmission(ctx, &model.Submission{
			ID:      subID,
			Verdict: model.VerdictIE,
		})
		if err != nil {
			logger.Error(ctx, "permanent-failure verdict write failed", zap.Error(err))
		} else if !committed {
			logger.Info(ctx, "submission already terminal", zap.Int64("submission_id", subID))
		}
	}
}

// ParseEnvelope reads a dead-lettered body. A message that dead-lettered
// straight off the primary queue is a bare JudgeRequest and gets wrapped
// with a zero retry count; one that already cycled carries the envelope.
func ParseEnvelope(body []byte) (model.RetryableEnvelope, error) {
	var env model.RetryableEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Request.SubmissionID != 0 {
		return env, nil
	}

	var req model.JudgeRequest
	if err := json.Unmarshal(body, &req); err != nil || req.SubmissionID == 0 {
		return model.RetryableEnvelope{}, appErr.New(appErr.MessageMalformed).WithMessage("dead letter is neither envelope nor judge request")
	}
	return model.RetryableEnvelope{
		Request:       req,
		OriginalQueue: mq.QueueSubmissions,
		FirstFailed:   time.Now().UTC(),
	}, nil
}

// deathReason extracts why the broker dead-lettered a message from its
// x-death header. Missing or unreadable headers get a fixed marker so the
// envelope never cycles with an empty LastError.
func deathReason(headers map[string]interface{}) string {
	deaths, _ := headers["x-death"].([]interface{})
	for _, entry := range deaths {
		var t map[string]interface{}
		switch e := entry.(type) {
		case map[string]interface{}:
			t = e
		case amqp.Table:
			t = e
		default:
			continue
		}
		reason, _ := t["reason"].(string)
		if reason == "" {
			continue
		}
		if queue, _ := t["queue"].(string); queue != "" {
			return fmt.Sprintf("%s from %s", reason, queue)
		}
		return reason
	}
	return "dead-lettered from " + mq.QueueSubmissions
}

// Stats is the operator view of the retry pipeline.
type Stats struct {
	FailedDepth int `json:"failed_depth"`
	RetryDepth  int `json:"retry_depth"`
	MaxRetries  int `json:"max_retries"`
}

// Stats reports current queue depths.
func (c *Consumer) Stats(ctx context.Context) (Stats, error) {
	failed, err := c.cfg.Broker.QueueDepth(ctx, mq.QueueFailed)
	if err != nil {
		return Stats{}, err
	}
	retry, err := c.cfg.Broker.QueueDepth(ctx, mq.QueueRetry)
	if err != nil {
		return Stats{}, err
	}
	return Stats{FailedDepth: failed, RetryDepth: retry, MaxRetries: c.cfg.MaxRetries}, nil
}

// Purge drops everything in the failed queue. Operator escape hatch.
func (c *Consumer) Purge(ctx context.Context) (int, error) {
	n, err := c.cfg.Broker.Purge(ctx, mq.QueueFailed)
	if err != nil {
		return 0, err
	}
	logger.Warn(ctx, "dead-letter queue purged", zap.Int("dropped", n))
	if c.cfg.ExecLog != nil {
		if logErr := c.cfg.ExecLog.Append(ctx, 0, model.LogAudit,
			fmt.Sprintf("dead-letter queue purged, %d messages dropped", n)); logErr != nil {
			logger.Warn(ctx, "audit log write failed", zap.Error(logErr))
		}
	}
	return n, nil
}
