package main

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"go.uber.org/zap"

	"plant-debugger/api/internal/config"
	"plant-debugger/api/internal/cost"
	"plant-debugger/api/internal/diagnose"
	"plant-debugger/api/internal/diagnose/gemini"
	"plant-debugger/api/internal/handle"
	"plant-debugger/api/internal/httpserver"
	"plant-debugger/api/internal/ratelimit"
	"plant-debugger/api/internal/store"
)

func main() {
	log, _ := zap.NewProduction()
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	if p := strings.TrimSpace(os.Getenv("PORT")); p != "" {
		cfg.Port = p
	}

	// Postgres is optional; without a DSN sessions live in memory only.
	var repo *store.SessionRepo
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatal("sql.Open", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(1 * time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(ctx); err != nil {
			cancel()
			log.Fatal("db.Ping", zap.Error(err))
		}
		if err := store.EnsureSchema(ctx, db); err != nil {
			cancel()
			log.Fatal("schema", zap.Error(err))
		}
		cancel()
		log.Info("db connected", zap.String("dsn", config.SafeDSNSummary(cfg.DatabaseURL)))
		repo = store.NewSessionRepo(db)
	} else {
		log.Info("no database configured, sessions are memory-only")
	}

	engine := gemini.New(cfg.GeminiAPIKey, cfg.ProModel, cfg.FlashModel, cfg.FlashLiteModel, log)
	defer func() { _ = engine.Close() }()

	costs := cost.NewTracker()
	orch := diagnose.NewOrchestrator(engine, costs, log)
	sessions := diagnose.NewManager()
	limiter := ratelimit.NewLimiter()

	h := handle.New(orch, sessions, limiter, costs, repo, log)
	mux := httpserver.Routes(h, db)

	if err := httpserver.Start(":"+cfg.Port, mux, log); err != nil {
		log.Fatal("listen", zap.Error(err))
	}
}
