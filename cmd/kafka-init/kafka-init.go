package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Noticeboard/internal/config/api"
	"github.com/NordCoder/Noticeboard/internal/obs"
	kafkax "github.com/NordCoder/Noticeboard/internal/repository/kafka"
)

// kafka-init creates the notification events topic from the api config.
func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/api.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}
	logger, err := obs.NewLogger(obs.LogConfig{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, App: "noticeboard", Service: "kafka-init", Env: cfg.App.Env})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("kafka.brokers is empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	spec := kafkax.TopicSpec{
		Name:              cfg.Kafka.Topic,
		NumPartitions:     cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		MaxWait:           30 * time.Second,
	}
	if err := kafkax.EnsureTopic(ctx, cfg.Kafka.Brokers, spec, logger); err != nil {
		logger.Fatal("ensure topic", zap.String("topic", spec.Name), zap.Error(err))
	}
	logger.Info("kafka-init ok", zap.String("topic", spec.Name))
}
