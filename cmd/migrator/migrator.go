package main

import (
	"context"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/NordCoder/Noticeboard/internal/obs"
	"github.com/NordCoder/Noticeboard/migrations"
)

// usage: migrator [up|down|status|reset]
func main() {
	logger, err := obs.NewLogger(obs.LogConfig{Level: "info", App: "noticeboard", Service: "migrator"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		logger.Fatal("DB_DSN is empty")
	}
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatal("set dialect", zap.Error(err))
	}
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	if err := goose.RunContext(context.Background(), command, db, "."); err != nil {
		logger.Fatal("migrate", zap.String("command", command), zap.Error(err))
	}
	logger.Info("migrations done", zap.String("command", command))
}
