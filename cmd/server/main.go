package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv" // .env loading for local development

	"github.com/rashiddalii/moodlog-server/internal/config"     // Internal config loader
	"github.com/rashiddalii/moodlog-server/internal/database"   // MySQL / MongoDB connections and migrations
	"github.com/rashiddalii/moodlog-server/internal/logging"    // slog setup
	"github.com/rashiddalii/moodlog-server/internal/queue"      // account event publisher
	"github.com/rashiddalii/moodlog-server/internal/repository" // credential store drivers
	"github.com/rashiddalii/moodlog-server/internal/router"     // Internal router setup
	"github.com/rashiddalii/moodlog-server/internal/service"    // session manager
	"github.com/rashiddalii/moodlog-server/internal/utils"      // token issuer, hasher
)

var version = "dev"

func main() {
	_ = godotenv.Load() // a missing .env is fine
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.Load()
	logger := logging.New(logging.Config{
		Service: "moodlog-server",
		Version: version,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
	if missing := cfg.MissingSecrets(); len(missing) > 0 {
		logger.Warn("signing secrets not set; token issuance will fail", "missing", missing)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	rdb := config.NewRedisClient(logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	opts := []service.Option{service.WithLogger(logger)}
	if cfg.EventsEnabled {
		opts = append(opts, service.WithEvents(queue.NewPublisher(cfg.RabbitMQURL)))
	}
	sessions := service.NewSessionService(
		store,
		utils.NewTokenIssuer(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.AccessTTL, cfg.RefreshTTL),
		utils.NewBcryptHasher(cfg.BcryptCost),
		opts...,
	)

	e := router.New(router.Deps{Config: cfg, Sessions: sessions, Redis: rdb, Logger: logger})

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", "addr", addr, "env", cfg.Env, "store", cfg.StoreDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// openStore connects the configured credential store driver.  The returned
// func releases its connections.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.CredentialStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, nil, err
		}
		if cfg.DBMigrate {
			if err := database.Migrate(db, cfg.DBName); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		return repository.NewMySQLStore(db, cfg.MaxSessions), func() { _ = db.Close() }, nil

	case config.DriverMongo:
		client, err := database.OpenMongo(cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(c)
		}
		store := repository.NewMongoStore(client.Database(cfg.MongoDatabase), cfg.MaxSessions)
		if err := store.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
		return store, closeFn, nil

	case config.DriverMemory:
		logger.Warn("using in-memory credential store; accounts are lost on restart")
		return repository.NewMemoryStore(cfg.MaxSessions), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}
