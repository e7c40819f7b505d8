package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantpulse/identity-api/internal/config"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/quantpulse/identity-api/internal/logger"
	"github.com/quantpulse/identity-api/internal/mailer"
	"github.com/quantpulse/identity-api/internal/queue"
	"github.com/quantpulse/identity-api/internal/workers"
	"go.uber.org/zap"
)

func main() {
	// Parse command-line flags
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override debug mode if flag is set
	debugMode := cfg.WorkerDebugMode || *debugFlag

	// Initialize logger
	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if syncErr := zapLogger.Sync(); syncErr != nil {
			// Ignore sync errors in production
			_ = syncErr
		}
	}()

	zapLogger.Info("starting_worker",
		zap.Bool("debug_mode", debugMode),
	)

	// Initialize database connection
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()

	zapLogger.Info("connected_to_database")

	magicLinkRepo := database.NewMagicLinkRepository(db)

	// Initialize RabbitMQ queue
	jobQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq", zap.Error(err))
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()

	zapLogger.Info("connected_to_rabbitmq",
		zap.Int("prefetch", cfg.RabbitMQPrefetch),
	)

	// Email provider client
	if cfg.EmailProviderURL == "" {
		zapLogger.Fatal("email_provider_url_not_configured")
	}
	provider := mailer.NewProviderClient(cfg.EmailProviderURL, cfg.EmailProviderKey, cfg.EmailFromAddress)
	sender := workers.NewEmailSender(provider, zapLogger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Periodic sweep of overdue magic-link tokens
	sweeper := workers.NewTokenSweeper(magicLinkRepo, 10*time.Minute, zapLogger)
	go func() {
		if err := sweeper.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("token_sweeper_stopped_with_error", zap.Error(err))
		}
	}()

	// Start consuming messages
	msgChan, errChan, err := jobQueue.Consume(ctx, cfg.RabbitMQPrefetch)
	if err != nil {
		zapLogger.Fatal("failed_to_start_consuming", zap.Error(err))
	}

	zapLogger.Info("worker_started")

	// Process messages
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgChan:
				if !ok {
					zapLogger.Info("message_channel_closed")
					return
				}
				handleMessage(ctx, msg, sender, jobQueue, zapLogger)
			}
		}
	}()

	// Handle errors
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errChan:
				if !ok {
					return
				}
				zapLogger.Error("queue_error", zap.Error(err))
			}
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	zapLogger.Info("shutdown_signal_received")

	// Cancel context to stop processing
	cancel()

	zapLogger.Info("worker_stopped")
}

// handleMessage processes one delivery, re-enqueueing retryable failures
// with backoff and dead-lettering exhausted ones.
func handleMessage(ctx context.Context, msg *queue.Message, sender *workers.EmailSender, jobQueue queue.JobQueue, zapLogger *zap.Logger) {
	job := msg.GetJob()

	err := sender.ProcessJob(ctx, job)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			zapLogger.Warn("failed_to_ack_message", zap.Error(ackErr))
		}
		return
	}

	zapLogger.Error("failed_to_process_job",
		zap.Error(err),
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Int("retry_count", job.RetryCount),
	)

	if !job.CanRetry() {
		// Exhausted: dead-letter it
		if nackErr := msg.Nack(false); nackErr != nil {
			zapLogger.Warn("failed_to_nack_message", zap.Error(nackErr))
		}
		return
	}

	// Re-enqueue a delayed copy, then ack the original
	job.IncrementRetry()
	backoff := time.Duration(job.RetryCount) * 30 * time.Second
	notBefore := time.Now().Add(backoff)
	job.NotBefore = &notBefore

	if enqErr := jobQueue.Enqueue(ctx, job); enqErr != nil {
		zapLogger.Error("failed_to_reenqueue_job", zap.Error(enqErr))
		// Requeue the original so the job is not lost
		if nackErr := msg.Nack(true); nackErr != nil {
			zapLogger.Warn("failed_to_requeue_message", zap.Error(nackErr))
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		zapLogger.Warn("failed_to_ack_message", zap.Error(ackErr))
	}
}
