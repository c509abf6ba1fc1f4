package main

import (
	"context"

	"go.uber.org/zap"

	config "github.com/NordCoder/Noticeboard/internal/config/api"
	pg "github.com/NordCoder/Noticeboard/internal/repository/postgres"
)

func initDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pg.DB, error) {
	db, err := pg.New(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	logger.Info("postgres connected", zap.Int32("max_conns", cfg.DB.MaxConns))
	return db, nil
}
