package mq

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	appErr "judged/pkg/errors"
	"judged/pkg/utils/logger"
)

// RabbitConfig holds broker connection and topology configuration
type RabbitConfig struct {
	URL            string        `yaml:"url"`
	Prefetch       int           `yaml:"prefetch"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
	RetryTTL       time.Duration `yaml:"retryTTL"`  // how long a message sits in judge.retry
	FailedTTL      time.Duration `yaml:"failedTTL"` // retention of judge.failed
}

// RabbitBroker implements Broker over a single AMQP connection with
// automatic reconnect. Publishing uses a shared channel; each consumer
// gets a dedicated channel with prefetch applied.
type RabbitBroker struct {
	cfg RabbitConfig

	mu      sync.Mutex
	conn    *amqp.Connection
	pubCh   *amqp.Channel
	closed  bool
	closeCh chan struct{}
}

// NewRabbitBroker connects to the broker and declares the judge topology.
func NewRabbitBroker(cfg RabbitConfig) (*RabbitBroker, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.RetryTTL <= 0 {
		cfg.RetryTTL = 5 * time.Minute
	}
	if cfg.FailedTTL <= 0 {
		cfg.FailedTTL = 7 * 24 * time.Hour
	}

	b := &RabbitBroker{
		cfg:     cfg,
		closeCh: make(chan struct{}),
	}
	if err := b.connect(); err != nil {
		return nil, err
	}
	if err := b.setupTopology(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *RabbitBroker) connect() error {
	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return appErr.Wrap(err, appErr.QueueUnavailable)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return appErr.Wrap(err, appErr.QueueUnavailable)
	}

	b.mu.Lock()
	b.conn = conn
	b.pubCh = ch
	b.mu.Unlock()

	go b.watchConnection(conn)
	return nil
}

// watchConnection re-dials when the broker drops the connection.
func (b *RabbitBroker) watchConnection(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if closeErr == nil {
		return // clean shutdown
	}

	logger.Warn(context.Background(), "broker connection lost, reconnecting",
		zap.String("reason", closeErr.Error()))

	for {
		select {
		case <-b.closeCh:
			return
		case <-time.After(b.cfg.ReconnectDelay):
		}

		if err := b.connect(); err != nil {
			logger.Error(context.Background(), "broker reconnect failed", zap.Error(err))
			continue
		}
		logger.Info(context.Background(), "broker connection restored")
		return
	}
}

// setupTopology declares queues and exchanges:
//
//	judge.submissions  -> dead-letters to judge.dead/failed
//	judge.retry        -> TTL expiry re-routes to judge.submissions
//	judge.failed       -> bound to judge.dead, 7-day retention
//	judge.events       -> topic exchange for verdict events
//	judge.plagiarism   -> plain durable queue
func (b *RabbitBroker) setupTopology() error {
	ch, err := b.channel()
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(ExchangeDead, "direct", true, false, false, false, nil); err != nil {
		return appErr.Wrap(err, appErr.TopologyDeclareErr)
	}
	if err := ch.ExchangeDeclare(ExchangeEvents, "topic", true, false, false, false, nil); err != nil {
		return appErr.Wrap(err, appErr.TopologyDeclareErr)
	}

	_, err = ch.QueueDeclare(QueueSubmissions, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    ExchangeDead,
		"x-dead-letter-routing-key": routingKeyFailed,
	})
	if err != nil {
		return appErr.Wrap(err, appErr.TopologyDeclareErr)
	}

	_, err = ch.QueueDeclare(QueueRetry, true, false, false, false, amqp.Table{
		"x-message-ttl":             b.cfg.RetryTTL.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": QueueSubmissions,
	})
	if err != nil {
		return appErr.Wrap(err, appErr.TopologyDeclareErr)
	}

	_, err = ch.QueueDeclare(QueueFailed, true, false, false, false, amqp.Table{
		"x-message-ttl": b.cfg.FailedTTL.Milliseconds(),
	})
	if err != nil {
		return appErr.Wrap(err, appErr.TopologyDeclareErr)
	}
	if err := ch.QueueBind(QueueFailed, routingKeyFailed, ExchangeDead, false, nil); err != nil {
		return appErr.Wrap(err, appErr.TopologyDeclareErr)
	}

	if _, err := ch.QueueDeclare(QueuePlagiarism, true, false, false, false, nil); err != nil {
		return appErr.Wrap(err, appErr.TopologyDeclareErr)
	}

	return nil
}

func (b *RabbitBroker) channel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, appErr.New(appErr.QueueUnavailable).WithMessage("broker is closed")
	}
	if b.pubCh == nil || b.pubCh.IsClosed() {
		return nil, appErr.New(appErr.QueueUnavailable).WithMessage("broker channel not ready")
	}
	return b.pubCh, nil
}

// Consume opens a dedicated channel on the queue with manual ack and the
// configured prefetch. Deliveries stop when ctx is cancelled; on channel
// loss the consumer re-subscribes after the reconnect delay.
func (b *RabbitBroker) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			if err := b.consumeOnce(ctx, queue, out); err != nil {
				logger.Warn(ctx, "consumer stopped, will resubscribe",
					zap.String("queue", queue), zap.Error(err))
			}

			select {
			case <-ctx.Done():
				return
			case <-b.closeCh:
				return
			case <-time.After(b.cfg.ReconnectDelay):
			}
		}
	}()

	return out, nil
}

func (b *RabbitBroker) consumeOnce(ctx context.Context, queue string, out chan<- Delivery) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return appErr.New(appErr.QueueUnavailable)
	}

	ch, err := conn.Channel()
	if err != nil {
		return appErr.Wrap(err, appErr.ConsumeFailed)
	}
	defer ch.Close()

	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return appErr.Wrap(err, appErr.ConsumeFailed)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return appErr.Wrap(err, appErr.ConsumeFailed)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return appErr.New(appErr.ConsumeFailed).WithMessage("delivery channel closed")
			}
			msg := NewDelivery(d.Body, d.MessageId, d.RoutingKey, d.Headers,
				func() error { return d.Ack(false) },
				func(requeue bool) error { return d.Nack(false, requeue) },
			)
			select {
			case out <- msg:
			case <-ctx.Done():
				// never consumed by a worker; put it back
				_ = d.Nack(false, true)
				return nil
			}
		}
	}
}

// Publish sends a persistent message. An empty exchange routes directly to
// the queue named by routingKey.
func (b *RabbitBroker) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish to %s/%s failed", exchange, routingKey)
	}
	return nil
}

// QueueDepth returns the current ready-message count of a queue.
func (b *RabbitBroker) QueueDepth(ctx context.Context, queue string) (int, error) {
	ch, err := b.channel()
	if err != nil {
		return 0, err
	}
	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, appErr.Wrap(err, appErr.QueueUnavailable)
	}
	return q.Messages, nil
}

// Purge drops all ready messages from a queue and returns how many were dropped.
func (b *RabbitBroker) Purge(ctx context.Context, queue string) (int, error) {
	ch, err := b.channel()
	if err != nil {
		return 0, err
	}
	n, err := ch.QueuePurge(queue, false)
	if err != nil {
		return 0, appErr.Wrap(err, appErr.QueueUnavailable)
	}
	return n, nil
}

func (b *RabbitBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.closeCh)
	if b.pubCh != nil {
		b.pubCh.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
