package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/biomedkg/kgx/internal/config"
	"github.com/biomedkg/kgx/internal/metrics"
	"github.com/biomedkg/kgx/internal/queue"
	"github.com/biomedkg/kgx/internal/storage"
	"github.com/biomedkg/kgx/internal/util"
	"github.com/biomedkg/kgx/pkg/graph"
	csvloader "github.com/biomedkg/kgx/pkg/loader/csv"
	fileio "github.com/biomedkg/kgx/pkg/loader/io"
	s3loader "github.com/biomedkg/kgx/pkg/loader/s3"
	"github.com/biomedkg/kgx/pkg/logger"
	"github.com/biomedkg/kgx/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(util.GetEnv("CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Format: cfg.LogFormat,
	})
	logger.Init(consoleLogger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	m := metrics.New()

	processor := &queue.Processor{
		LocalLoader: csvloader.WithCSV(fileio.NewIOGraphFileLoader()),
		OutputDir:   util.GetEnvString("OUTPUT_DIR", "output"),
	}

	// Init s3 client
	if cfg.S3.Bucket != "" {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			logger.Fatal("Could not create S3 client", "err", err)
		}
		processor.RemoteLoader = csvloader.WithCSV(s3loader.NewS3GraphFileLoaderWithClient(cfg.S3.Bucket, client))
		processor.Uploader = storage.NewArtifactStore(client, cfg.S3.Bucket, cfg.S3.Prefix)
	}

	params := cfg.GraphClientParams()
	params.NewCompleter = cfg.CompleterFactory(m)
	params.Loader = processor.LocalLoader
	params.Recorder = m
	params.Verbose = cfg.Debug
	processor.Client, err = graph.NewGraphClient(params)
	if err != nil {
		logger.Fatal("Could not create graph client", "err", err)
	}

	if cfg.AMQP.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.AMQP.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Serving metrics", "addr", cfg.AMQP.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Init rabbitmq
	conn, err := queue.Init(cfg.AMQP.URL())
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queueName := cfg.AMQP.Queue
	if err := queue.SetupQueues(ch, []string{queueName}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// One message at a time: a document already fans out into parallel
	// extraction requests.
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := ch.Consume(
		queueName,
		queueName+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queueName, "err", err)
	}

	logger.Info("Listening for messages", "queue", queueName)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queueName)
				return
			}

			startTime := time.Now()
			logger.Info("Received message", "queue", queueName)

			result := queue.ResultAck
			if _, err := processor.Handle(ctx, msg.Body); err != nil {
				logger.Error("Error processing message", "queue", queueName, "err", err)
				result = queue.HandleFailure(ctx, ch, msg, queueName, cfg.AMQP.MaxRetries, err)
			} else if err := msg.Ack(false); err != nil {
				logger.Error("Failed to ack message", "err", err)
			}
			m.ObserveMessage(result)

			logger.Info(
				"Processing time",
				"result", result,
				"duration", util.FormatDuration(time.Since(startTime)),
			)
			logger.Info("Waiting for next message")
		}
	}
}
