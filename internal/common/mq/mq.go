package mq

import "context"

// Queue and exchange names used by the judge engine.
const (
	QueueSubmissions = "judge.submissions"
	QueueRetry       = "judge.retry"
	QueueFailed      = "judge.failed"
	QueuePlagiarism  = "judge.plagiarism"

	ExchangeEvents = "judge.events"
	ExchangeDead   = "judge.dead"

	// Routing keys on the events exchange.
	RoutingKeySubmissionJudged  = "submission.judged"
	RoutingKeyCompilationFailed = "submission.compilation_failed"
	routingKeyFailed            = "failed"
)

// Delivery is one consumed message. Ack and Nack settle it with the broker;
// exactly one of the two must be called per delivery.
type Delivery struct {
	Body       []byte
	MessageID  string
	RoutingKey string
	Headers    map[string]interface{}

	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery builds a Delivery with explicit settle functions. The broker
// adapter and test fakes both construct deliveries through this.
func NewDelivery(body []byte, messageID, routingKey string, headers map[string]interface{}, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{
		Body:       body,
		MessageID:  messageID,
		RoutingKey: routingKey,
		Headers:    headers,
		ack:        ack,
		nack:       nack,
	}
}

// Ack acknowledges the message.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the message; requeue=false routes it to the dead-letter queue.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Broker abstracts the durable message broker. Consume channels close when
// ctx is cancelled or the broker shuts down.
type Broker interface {
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
	QueueDepth(ctx context.Context, queue string) (int, error)
	Purge(ctx context.Context, queue string) (int, error)
	Close() error
}
