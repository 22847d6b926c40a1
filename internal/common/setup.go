package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/abkawan/nivalus-ledger/internal/auth"
	"github.com/abkawan/nivalus-ledger/internal/config"
	"github.com/abkawan/nivalus-ledger/internal/db"
	"github.com/abkawan/nivalus-ledger/internal/queue"
	"github.com/abkawan/nivalus-ledger/internal/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Services is everything the API process serves requests with.
type Services struct {
	Store        db.Store
	Accounts     *service.AccountService
	Transactions *service.TransactionService
	// Activity is nil when no Mongo archive is configured.
	Activity *service.ActivityService

	rabbitmq *queue.RabbitMQ
	mongodb  *db.MongoDB
}

// InitializeLogger installs the process-wide logger and returns a flush func.
func InitializeLogger(level string, development bool) (*zap.Logger, func()) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		log.Printf("Unknown log level %q, using info", level)
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeStore opens the configured backend. Postgres gets its schema
// created if missing.
func InitializeStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		zap.L().Warn("Using in-memory storage; data is lost on exit")
		return db.NewMemory(cfg.Database.LockTimeout), nil
	case config.BackendPostgres:
		zap.L().Info("Connecting to PostgreSQL")
		postgres, err := db.NewPostgres(ctx, db.PostgresConfig{
			URI:             cfg.Database.PostgresURI,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			PingTimeout:     cfg.Database.PingTimeout,
			LockTimeout:     cfg.Database.LockTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := postgres.InitSchema(ctx); err != nil {
			postgres.Close()
			return nil, err
		}
		return postgres, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// RetryPolicy builds the conflict retry policy from config.
func RetryPolicy(cfg *config.Config) service.RetryPolicy {
	return service.RetryPolicy{MaxRetries: cfg.TxMaxRetries, Backoff: cfg.TxRetryBackoff}
}

// InitializeServices wires the store, the optional broker and archive, and
// the services on top of them.
func InitializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	store, err := InitializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc := &Services{Store: store}

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		svc.Close()
		return nil, err
	}

	var publisher service.EventPublisher = service.NopPublisher{}
	if cfg.RabbitMQURI != "" {
		zap.L().Info("Connecting to RabbitMQ")
		svc.rabbitmq, err = queue.NewRabbitMQ(cfg.RabbitMQURI)
		if err != nil {
			svc.Close()
			return nil, err
		}
		publisher = svc.rabbitmq
	} else {
		zap.L().Info("RABBITMQ_URI not set, ledger events are not published")
	}

	if cfg.MongoURI != "" {
		zap.L().Info("Connecting to MongoDB")
		svc.mongodb, err = db.NewMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.Activity = service.NewActivityService(svc.mongodb)
	}

	retry := RetryPolicy(cfg)
	svc.Accounts = service.NewAccountService(store, tokens, service.AccountConfig{
		BcryptCost:         cfg.BcryptCost,
		RecentTransactions: cfg.RecentTransactions,
		Retry:              retry,
	})
	svc.Transactions = service.NewTransactionService(store, svc.Accounts, publisher, retry)
	return svc, nil
}

func (s *Services) Close() {
	if s.rabbitmq != nil {
		if err := s.rabbitmq.Close(); err != nil {
			zap.L().Warn("Failed to close RabbitMQ", zap.Error(err))
		}
	}
	if s.mongodb != nil {
		if err := s.mongodb.Close(context.Background()); err != nil {
			zap.L().Warn("Failed to close MongoDB", zap.Error(err))
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			zap.L().Warn("Failed to close store", zap.Error(err))
		}
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
