package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"consular/internal/amqp"
	"consular/internal/config"
	"consular/internal/export"
	"consular/internal/storage"
)

// The worker listens for batch-loaded notifications and refreshes the
// Google Sheets snapshot after every load, so the shared sheet always
// mirrors the local database.
func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting consular-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}
	if cfg.GoogleSpreadsheetID == "" {
		logger.Error("GOOGLE_SPREADSHEET_ID is required for the worker")
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	sheetsClient, err := export.NewSheetsFromEnv(context.Background())
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshot := func(msg *amqp.BatchLoadedMessage) error {
		records, err := repo.AllRecords(ctx)
		if err != nil {
			return err
		}
		if err := sheetsClient.Snapshot(ctx, records); err != nil {
			return err
		}
		logger.Info("Snapshot refreshed",
			"trigger", msg.Filename, "records", len(records))
		return nil
	}

	go func() {
		if err := amqpClient.ConsumeBatchLoaded(ctx, snapshot); err != nil {
			if err != context.Canceled {
				logger.Error("Message consumption stopped", "error", err)
			}
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	case <-ctx.Done():
	}

	logger.Info("consular-worker stopped")
}
