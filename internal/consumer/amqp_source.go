package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/CyberwizD/follow-notifier/internal/models"
)

const changeExchange = "records.changes"

// AMQPSource consumes JSON change batches from a RabbitMQ queue. Each
// delivery is acked once its batch has been handed to the listener.
type AMQPSource struct {
	url      string
	queue    string
	dlq      string
	prefetch int
	logger   *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewAMQPSource takes an already dialed connection. It redials url when the
// connection is lost.
func NewAMQPSource(conn *amqp.Connection, url, queue, dlq string, prefetch int, logger *slog.Logger) *AMQPSource {
	if prefetch <= 0 {
		prefetch = 50
	}
	return &AMQPSource{
		url:      url,
		queue:    queue,
		dlq:      dlq,
		prefetch: prefetch,
		logger:   logger,
		conn:     conn,
	}
}

func (s *AMQPSource) Name() string {
	return "amqp"
}

func (s *AMQPSource) Subscribe(ctx context.Context, emit EmitFunc) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := s.setupQueue(ch); err != nil {
		return fmt.Errorf("queue setup failed: %w", err)
	}
	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		return fmt.Errorf("qos configuration failed: %w", err)
	}

	deliveries, err := ch.Consume(
		s.queue,
		"",
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.queue, err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("amqp channel closed")
			}
			return fmt.Errorf("amqp channel closed: %w", amqpErr)
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery stream closed")
			}
			if err := s.handleDelivery(ctx, msg, emit); err != nil && ctx.Err() != nil {
				return nil
			}
		}
	}
}

// Close closes the underlying connection.
func (s *AMQPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}

func (s *AMQPSource) connection() (*amqp.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	s.conn = conn
	return conn, nil
}

func (s *AMQPSource) handleDelivery(ctx context.Context, msg amqp.Delivery, emit EmitFunc) error {
	batch, err := models.DecodeChangeBatch(msg.Body)
	if err != nil {
		s.logger.Error("failed to decode change batch, dead-lettering",
			slog.String("message_id", msg.MessageId),
			slog.Any("error", err),
		)
		_ = msg.Reject(false)
		return nil
	}
	batch.Source = s.Name()
	if batch.Dropped > 0 {
		s.logger.Warn("dropped change events without a document id",
			slog.String("message_id", msg.MessageId),
			slog.Int("dropped", batch.Dropped),
		)
	}

	if err := emit(ctx, batch); err != nil {
		_ = msg.Nack(false, true)
		return err
	}
	return msg.Ack(false)
}

func (s *AMQPSource) setupQueue(ch *amqp.Channel) error {
	args := amqp.Table{}
	if s.dlq != "" {
		args["x-dead-letter-exchange"] = ""
		args["x-dead-letter-routing-key"] = s.dlq
	}

	if err := ch.ExchangeDeclare(
		changeExchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		s.queue,
		true,
		false,
		false,
		false,
		args,
	); err != nil {
		return err
	}

	if err := ch.QueueBind(
		s.queue,
		"",
		changeExchange,
		false,
		nil,
	); err != nil {
		return err
	}

	if s.dlq != "" {
		if _, err := ch.QueueDeclare(
			s.dlq,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return err
		}
	}
	return nil
}
