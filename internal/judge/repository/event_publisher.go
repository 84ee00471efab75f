package repository

import (
	"context"
	"encoding/json"

	"judged/internal/common/mq"
	"judged/internal/judge/breaker"
	"judged/internal/judge/model"
	appErr "judged/pkg/errors"
)

// EventPublisher emits judge events and retry envelopes through the broker,
// guarded by the broker circuit breaker.
type EventPublisher struct {
	broker mq.Broker
	brk    *breaker.Breaker
}

// NewEventPublisher creates an event publisher. brk may be nil.
func NewEventPublisher(broker mq.Broker, brk *breaker.Breaker) *EventPublisher {
	return &EventPublisher{broker: broker, brk: brk}
}

func (p *EventPublisher) publish(ctx context.Context, exchange, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return appErr.Wrap(err, appErr.PublishFailed)
	}
	op := func() error {
		return p.broker.Publish(ctx, exchange, key, body)
	}
	if p.brk == nil {
		return op()
	}
	return p.brk.Execute(op)
}

// SubmissionJudged publishes the terminal verdict event.
func (p *EventPublisher) SubmissionJudged(ctx context.Context, ev model.SubmissionJudgedEvent) error {
	return p.publish(ctx, mq.ExchangeEvents, mq.RoutingKeySubmissionJudged, ev)
}

// CompilationFailed publishes a compile-failure event.
func (p *EventPublisher) CompilationFailed(ctx context.Context, ev model.CompilationFailedEvent) error {
	return p.publish(ctx, mq.ExchangeEvents, mq.RoutingKeyCompilationFailed, ev)
}

// EnqueuePlagiarism hands an accepted submission to the plagiarism queue.
func (p *EventPublisher) EnqueuePlagiarism(ctx context.Context, req model.PlagiarismCheckRequest) error {
	return p.publish(ctx, "", mq.QueuePlagiarism, req)
}

// SendToRetry publishes a retry envelope; the retry queue's TTL routes it
// back to the primary queue.
func (p *EventPublisher) SendToRetry(ctx context.Context, env model.RetryableEnvelope) error {
	return p.publish(ctx, "", mq.QueueRetry, env)
}
