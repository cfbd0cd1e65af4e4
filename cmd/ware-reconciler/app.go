package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/WareBox/config"
	"github.com/BearBump/WareBox/internal/broker/kafka"
	"github.com/BearBump/WareBox/internal/broker/messages"
	"github.com/BearBump/WareBox/internal/services/delivery"
	"github.com/BearBump/WareBox/internal/services/reconciler"
	"github.com/BearBump/WareBox/internal/services/shipments"
	"github.com/BearBump/WareBox/internal/storage/pgware"
)

type reconcilerStorage interface {
	reconciler.Repository
	shipments.Repository
	delivery.Repository
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type reconcilerFactories struct {
	newStorage  func(cfg *config.Config) (reconcilerStorage, func(), error)
	newProducer func(cfg *config.Config) shipments.Producer
	newConsumer func(cfg *config.Config, topic, group string) kafkaConsumer
}

func defaultReconcilerFactories() reconcilerFactories {
	return reconcilerFactories{
		newStorage: func(cfg *config.Config) (reconcilerStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgware.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) shipments.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newConsumer: func(cfg *config.Config, topic, group string) kafkaConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
	}
}

func RunWareReconciler(ctx context.Context, cfg *config.Config, f reconcilerFactories, httpOpts reconcilerHTTPOpts) error {
	topic := cfg.Kafka.PackageDeliveredTopicName
	if topic == "" {
		topic = messages.TopicPackageDelivered
	}
	group := cfg.WareBox.KafkaConsumerGroup
	if group == "" {
		group = "ware-reconciler"
	}

	sweepInterval := time.Duration(cfg.WareBox.ReconcilerSweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	batchSize := cfg.WareBox.ReconcilerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	shipSvc := shipments.New(st, producer)
	// Лимитер довыдаче не нужен: её зовёт только sweeper.
	delSvc := delivery.New(st, producer, nil, 0, 0)
	sweeper := reconciler.New(st, shipSvc).
		WithIssuer(delSvc).
		WithSettings(sweepInterval, batchSize)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweepErr := make(chan error, 1)
	go func() { sweepErr <- sweeper.Run(runCtx) }()

	// Доставка посылки — повод сверить её отправление немедленно.
	consumer := f.newConsumer(cfg, topic, group)
	go func() {
		slog.Info("kafka consumer started", "topic", topic, "group", group)
		_ = consumer.Consume(runCtx, func(_ []byte, value []byte) error {
			if err := sweeper.HandleDeliveredEvent(runCtx, value); err != nil {
				var probe json.RawMessage
				if json.Unmarshal(value, &probe) != nil {
					// Битый payload: коммитим и едем дальше, retry не поможет.
					slog.Error("skip malformed package.delivered", "error", err.Error())
					return nil
				}
				return err
			}
			return nil
		})
	}()

	httpOpts.sweeper = sweeper
	httpErr := make(chan error, 1)
	go func() { httpErr <- runReconcilerHTTPServer(runCtx, httpOpts) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-sweepErr:
		return err
	case err := <-httpErr:
		return err
	}
}
