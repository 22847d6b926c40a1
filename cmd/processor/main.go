package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/abkawan/nivalus-ledger/internal/common"
	"github.com/abkawan/nivalus-ledger/internal/config"
	"github.com/abkawan/nivalus-ledger/internal/db"
	"github.com/abkawan/nivalus-ledger/internal/queue"
	"github.com/abkawan/nivalus-ledger/internal/service"
	"go.uber.org/zap"
)

// processor archives committed ledger events from RabbitMQ into MongoDB.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.RabbitMQURI == "" || cfg.MongoURI == "" {
		log.Fatal("RABBITMQ_URI and MONGO_URI are required")
	}

	logger, cleanup := common.InitializeLogger(cfg.LogLevel, cfg.LogDevelopment)
	defer cleanup()

	// Connect to MongoDB
	logger.Info("Connecting to MongoDB")
	mongodb, err := db.NewMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer mongodb.Close(context.Background())

	// Connect to RabbitMQ
	logger.Info("Connecting to RabbitMQ")
	rabbitmq, err := queue.NewRabbitMQ(cfg.RabbitMQURI)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitmq.Close()

	activity := service.NewActivityService(mongodb)

	logger.Info("Starting event processor")
	done, err := activity.StartProcessor(ctx, rabbitmq)
	if err != nil {
		logger.Fatal("Failed to start event processor", zap.Error(err))
	}

	// Wait for interrupt signal or the broker going away
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("Shutting down processor")
		cancel()
		<-done
	case <-done:
		logger.Warn("Event stream closed")
	}

	logger.Info("Processor shut down successfully")
}
