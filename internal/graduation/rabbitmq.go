package graduation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"agent-launchpad/internal/domain"
)

// RabbitMQConfig holds the connection parameters of the follow-up queue.
type RabbitMQConfig struct {
	URL      string
	Queue    string
	Prefetch int
}

// RabbitMQQueue publishes and consumes graduation events over RabbitMQ.
// Messages are persistent on a durable queue and acknowledged manually.
type RabbitMQQueue struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	logger *zap.Logger
	mu     sync.Mutex // amqp channels are not safe for concurrent publish
}

// NewRabbitMQQueue dials RabbitMQ and declares the queue.
func NewRabbitMQQueue(cfg RabbitMQConfig, logger *zap.Logger) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "launchpad.graduations"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("set rabbitmq qos: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare rabbitmq queue: %w", err)
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue, logger: logger}, nil
}

// Publish sends e as a persistent JSON message.
func (q *RabbitMQQueue) Publish(ctx context.Context, e *domain.GraduationEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode graduation event: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: e.EventID,
		Type:          "graduation",
		Body:          body,
	})
}

// Consume delivers messages to handler on workers goroutines until ctx is done.
// Failed and undecodable messages are dropped; the reconciler re-dispatches
// graduated agents.
func (q *RabbitMQQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume rabbitmq queue: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					q.deliver(ctx, msg, handler)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (q *RabbitMQQueue) deliver(ctx context.Context, msg amqp.Delivery, handler Handler) {
	var e domain.GraduationEvent
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		q.logger.Warn("dropping undecodable graduation message",
			zap.String("message_id", msg.MessageId), zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}
	if err := handler(ctx, &e); err != nil {
		q.logger.Warn("graduation follow-up failed",
			zap.String("agent_id", e.AgentID),
			zap.String("message_id", msg.MessageId),
			zap.Bool("redelivered", msg.Redelivered),
			zap.Error(err))
		_ = msg.Nack(false, !msg.Redelivered)
		return
	}
	_ = msg.Ack(false)
}

// Close closes the channel and connection.
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
