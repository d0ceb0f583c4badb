package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/CyberwizD/follow-notifier/internal/models"
)

// NewKafkaConfig returns the consumer group settings used for the change topic.
func NewKafkaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}
	return cfg
}

// KafkaSource reads JSON change batches from a topic as part of a consumer
// group. An offset is marked once its batch has been handed to the listener.
type KafkaSource struct {
	group  sarama.ConsumerGroup
	topic  string
	logger *slog.Logger
}

func NewKafkaSource(group sarama.ConsumerGroup, topic string, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{
		group:  group,
		topic:  topic,
		logger: logger,
	}
}

func (s *KafkaSource) Name() string {
	return "kafka"
}

func (s *KafkaSource) Subscribe(ctx context.Context, emit EmitFunc) error {
	errCtx, stop := context.WithCancel(ctx)
	defer stop()
	go s.logErrors(errCtx)

	handler := &claimHandler{source: s, emit: emit}
	for {
		if err := s.group.Consume(ctx, []string{s.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consume %s: %w", s.topic, err)
		}
		// Consume returns on every rebalance.
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (s *KafkaSource) Close() error {
	return s.group.Close()
}

func (s *KafkaSource) logErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-s.group.Errors():
			if !ok {
				return
			}
			s.logger.Warn("kafka consumer error", slog.Any("error", err))
		}
	}
}

// handleMessage reports whether the message offset may be marked.
func (s *KafkaSource) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage, emit EmitFunc) bool {
	batch, err := models.DecodeChangeBatch(msg.Value)
	if err != nil {
		s.logger.Error("failed to decode change batch, skipping",
			slog.Int("partition", int(msg.Partition)),
			slog.Int64("offset", msg.Offset),
			slog.Any("error", err),
		)
		return true
	}
	batch.Source = s.Name()
	if batch.Dropped > 0 {
		s.logger.Warn("dropped change events without a document id",
			slog.Int("partition", int(msg.Partition)),
			slog.Int64("offset", msg.Offset),
			slog.Int("dropped", batch.Dropped),
		)
	}
	return emit(ctx, batch) == nil
}

type claimHandler struct {
	source *KafkaSource
	emit   EmitFunc
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.source.handleMessage(sess.Context(), msg, h.emit) {
				return nil
			}
			sess.MarkMessage(msg, "")
		}
	}
}
