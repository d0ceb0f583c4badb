package main

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"github.com/IBM/sarama"
	"github.com/streadway/amqp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/CyberwizD/follow-notifier/internal/config"
	"github.com/CyberwizD/follow-notifier/internal/consumer"
	"github.com/CyberwizD/follow-notifier/pkg/retry"
)

func connectPostgres(ctx context.Context, dsn string, connectCfg retry.Config) (*gorm.DB, error) {
	var db *gorm.DB
	err := retry.Do(ctx, connectCfg, func() error {
		conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
		db = conn
		return nil
	})
	return db, err
}

// newChangeSource opens the configured change feed. The returned func
// releases its connection.
func newChangeSource(ctx context.Context, cfg *config.Config, fsClient *firestore.Client, connectCfg retry.Config, logr *slog.Logger) (consumer.ChangeSource, func(), error) {
	switch cfg.ChangeSource {
	case config.SourceAMQP:
		var conn *amqp.Connection
		err := retry.Do(ctx, connectCfg, func() error {
			c, err := amqp.Dial(cfg.RabbitURL)
			if err != nil {
				return err
			}
			conn = c
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		src := consumer.NewAMQPSource(conn, cfg.RabbitURL, cfg.ChangeQueue, cfg.ChangeDLQ, cfg.PrefetchCount, logr)
		return src, closeWithLog(src.Close, "amqp", logr), nil

	case config.SourceKafka:
		var group sarama.ConsumerGroup
		err := retry.Do(ctx, connectCfg, func() error {
			g, err := sarama.NewConsumerGroup(cfg.KafkaBrokers, cfg.KafkaGroup, consumer.NewKafkaConfig(cfg.AppName))
			if err != nil {
				return err
			}
			group = g
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("join kafka group %s: %w", cfg.KafkaGroup, err)
		}
		src := consumer.NewKafkaSource(group, cfg.KafkaTopic, logr)
		return src, closeWithLog(src.Close, "kafka", logr), nil

	default:
		return consumer.NewFirestoreSource(fsClient, cfg.UsersCollection, logr), func() {}, nil
	}
}

func closeWithLog(closeFn func() error, name string, logr *slog.Logger) func() {
	return func() {
		if err := closeFn(); err != nil {
			logr.Warn("failed to close change source", slog.String("source", name), slog.Any("error", err))
		}
	}
}
