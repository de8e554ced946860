package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kgraph/internal/config"
	"github.com/OFFIS-RIT/kgraph/internal/queue"
	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/community"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	cfg.InitLogger()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	shutdownTracing := cfg.InitTracing("kgraph-worker")
	defer shutdownTracing(context.Background())

	aiClient, err := cfg.AI.NewAIClient()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	graph, err := cfg.Neo4j.Connect(ctx)
	if err != nil {
		logger.Fatal("Unable to connect to Neo4j", "err", err)
	}
	defer graph.Close(context.Background())

	builder, err := community.NewBuilder(graph, aiClient, cfg.Build.BuilderParams(graph))
	if err != nil {
		logger.Fatal("Invalid build settings", "err", err)
	}

	conn := queue.Init(cfg.Queue.URL())
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.BuildQueue); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// One build at a time per worker.
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := ch.Consume(
		queue.BuildQueue,
		"community_build_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.BuildQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.BuildQueue)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.BuildQueue)
				return
			}

			startTime := time.Now()
			logger.Info("Received message", "queue", queue.BuildQueue)

			if err := queue.HandleDelivery(ctx, ch, builder, queue.BuildQueue, msg); err == nil {
				logger.Info("Message processed successfully", "queue", queue.BuildQueue)
			}

			metrics := aiClient.GetMetrics()
			logger.Info(
				"AI Metrics",
				"input_tokens", metrics.InputTokens,
				"output_tokens", metrics.OutputTokens,
				"total_tokens", metrics.TotalTokens,
				"duration", clock(time.Duration(metrics.DurationMs)*time.Millisecond),
			)
			logger.Info("Processing time", "duration", clock(time.Since(startTime)))
			logger.Info("Waiting for next message")
			aiClient.ResetMetrics()
		}
	}
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
