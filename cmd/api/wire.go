package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	tokens "github.com/NordCoder/Noticeboard/internal/auth"
	config "github.com/NordCoder/Noticeboard/internal/config/api"
	"github.com/NordCoder/Noticeboard/internal/obs/retry"
	"github.com/NordCoder/Noticeboard/internal/outbox"
	kafkax "github.com/NordCoder/Noticeboard/internal/repository/kafka"
	pg "github.com/NordCoder/Noticeboard/internal/repository/postgres"
	"github.com/NordCoder/Noticeboard/internal/services/api/auth"
	"github.com/NordCoder/Noticeboard/internal/services/api/notification"
)

type components struct {
	handler  *notification.Handler
	authn    gin.HandlerFunc
	runner   *outbox.Runner
	producer *kafkax.Producer
}

func (c components) close() {
	if c.producer != nil {
		_ = c.producer.Close()
	}
}

func wire(cfg *config.Config, logger *zap.Logger, db *pg.DB) components {
	var c components
	clk := func() time.Time { return time.Now().UTC() }

	notifications := pg.NewNotificationRepo(db)
	rules := pg.NewRuleRepo(db)
	outboxRepo := pg.NewOutboxRepo(db)

	deps := notification.Deps{
		Logger: logger.Named("notification"),
		Tx:     pg.NewTransactor(db, logger),
		Repo:   notifications,
		Rules:  rules,
		Clock:  clk,
	}
	if cfg.Outbox.Enable {
		deps.Events = outboxRepo
	}
	admin := notification.NewUsecase(deps)

	tracker := notification.NewTracker(notification.TrackerDeps{
		Logger:     logger.Named("tracker"),
		Repo:       notifications,
		Rules:      rules,
		Recipients: pg.NewRecipientRepo(db),
		Feed:       pg.NewFeedRepo(db),
		Config:     cfg.Feed.AsFeedConfig(),
		Clock:      clk,
	})

	c.handler = notification.NewHandler(logger.Named("http"), admin, tracker)
	c.authn = auth.Middleware(tokens.NewCodec([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.TokenTTL))

	if cfg.Outbox.Enable {
		c.producer = kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(logger)
		dispatch := outbox.NewDispatcher(
			kafkax.NewNotificationEventsKafka(c.producer),
			retry.PublishPolicy(logger.Named("publish"), cfg.Kafka.PublishAttempts),
		)
		c.runner = outbox.NewRunner(logger.Named("outbox"), outboxRepo, dispatch, cfg.Outbox.AsRunnerConfig())
	}
	return c
}
