package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/folio-graph/folio/internal/queue"
	"github.com/folio-graph/folio/internal/storage"
	"github.com/folio-graph/folio/internal/util"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/leaselock"
	"github.com/folio-graph/folio/pkg/logger"
	"github.com/folio-graph/folio/pkg/logger/console"
	"github.com/folio-graph/folio/pkg/logger/jsonlog"
	pgstore "github.com/folio-graph/folio/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	_ "github.com/lib/pq"
)

const maxRetries = 10

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		Prefix: "worker",
	})
	instances := []logger.LoggerInstance{consoleLogger}
	if util.GetEnvBool("LOG_JSON", false) {
		jsonLogger, err := jsonlog.NewJSONLogger(jsonlog.JSONLoggerParams{
			Debug:   debug,
			Service: "folio-worker",
		})
		if err != nil {
			logger.Init(consoleLogger)
			logger.Fatal("Failed to create JSON logger", "err", err)
		}
		defer jsonLogger.Sync()
		instances = []logger.LoggerInstance{jsonLogger}
	}
	logger.Init(instances...)

	// database
	dbURL := util.GetEnv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	if err := pgstore.Migrate(util.GetEnvString("MIGRATIONS_URL", "file://migrations"), dbURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	pgConn, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	// s3
	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}

	leases, err := leaselock.New(pgConn, leaselock.Params{
		Holder: util.GetEnv("WORKER_ID"),
		TTL:    util.GetEnvDuration("PRUNE_LEASE_SECONDS", time.Second, leaselock.DefaultTTL),
	})
	if err != nil {
		logger.Fatal("Failed to create lease locker", "err", err)
	}
	logger.Info("Worker started", "holder", leases.Holder())

	archiver := &queue.Archiver{
		Objects:   s3Client,
		Snapshots: pgstore.NewSnapshotDBStorage(pgConn),
		Keep:      util.GetEnvInt("SNAPSHOT_KEEP", 50),
		Leases:    leases,
	}

	// rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	err = queue.SetupQueues(ch, map[string][]string{
		queue.SnapshotQueue: {queue.TopicGraphUpdated},
	})
	if err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	err = ch.Qos(1, 0, false)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := ch.Consume(
		queue.SnapshotQueue,
		"snapshot_queue_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.SnapshotQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.SnapshotQueue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("Message channel closed", "queue", queue.SnapshotQueue)
					stop()
					return
				}

				startTime := time.Now()
				processingErr := archiver.HandleGraphUpdated(ctx, msg.Body)
				if processingErr != nil {
					logger.Error("Error processing message", "queue", queue.SnapshotQueue, "err", processingErr)
					handleProcessingError(ch, msg, queue.SnapshotQueue, permanent(processingErr))
					continue
				}

				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", queue.SnapshotQueue, "duration", time.Since(startTime).Round(time.Millisecond))
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

// permanent reports errors that no retry can fix.
func permanent(err error) bool {
	var pe *common.ParseError
	var ve *common.ValidationError
	return errors.As(err, &pe) || errors.As(err, &ve)
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery, queueName string, permanent bool) {
	retries := queue.Retries(msg.Headers)

	if permanent || retries >= maxRetries {
		dlqName := queueName + "_dlq"
		logger.Info("Sending message to DLQ", "dlq", dlqName, "retries", retries)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp.Publishing{
				ContentType: msg.ContentType,
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := msg.Headers
	if headers == nil {
		headers = amqp.Table{}
	}
	headers["x-retries"] = int32(retries + 1)

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
