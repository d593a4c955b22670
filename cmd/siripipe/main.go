// Package main provides the siripipe vehicle-position ingestion service.
//
// The service consumes SIRI VehicleMonitoring records from Kafka, validates
// and normalizes them, and streams them into a warehouse table through a
// pool of buffered insert channels.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/siripipe-io/siripipe/internal/api"
	"github.com/siripipe-io/siripipe/internal/config"
	"github.com/siripipe-io/siripipe/internal/ingest"
	"github.com/siripipe-io/siripipe/internal/warehouse"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "siripipe"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	configFlag := flag.String("config", "", "path to YAML configuration file")
	checkKafkaFlag := flag.Bool("check-kafka", false, "probe the Kafka brokers and exit")
	checkWarehouseFlag := flag.Bool("check-warehouse", false, "probe the warehouse connection and exit")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *configFlag != "" {
		if err := config.ApplyFile(*configFlag); err != nil {
			log.Fatalf("loading configuration file: %v", err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("SIRIPIPE_LOG_LEVEL", slog.LevelInfo),
	}))

	kafkaConfig := ingest.LoadKafkaConfig()
	warehouseConfig := warehouse.LoadConfig()

	if *checkKafkaFlag {
		os.Exit(checkKafka(kafkaConfig, logger))
	}

	if *checkWarehouseFlag {
		os.Exit(checkWarehouse(warehouseConfig, logger))
	}

	logger.Info("Starting siripipe service",
		slog.String("service", name),
		slog.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := ingest.NewKafkaSource(kafkaConfig, logger)
	if err != nil {
		logger.Error("Failed to create Kafka consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Kafka consumer initialized",
		slog.Any("brokers", kafkaConfig.Brokers),
		slog.Any("topics", kafkaConfig.Topics),
		slog.String("consumer_group", kafkaConfig.ConsumerGroup),
	)

	factory := func(ctx context.Context) (ingest.WarehouseSession, error) {
		session, err := warehouse.Open(ctx, warehouseConfig, logger)
		if err != nil {
			return nil, err
		}

		if err := session.EnsureTable(ctx); err != nil {
			_ = session.Close()

			return nil, err
		}

		return session, nil
	}

	orchestrator, err := ingest.NewOrchestrator(ctx, source, factory, ingest.LoadOptions(), logger)
	if err != nil {
		logger.Error("Failed to start pipeline", slog.String("error", err.Error()))

		_ = source.Close()
		os.Exit(1)
	}

	logger.Info("Warehouse session established",
		slog.String("driver", warehouseConfig.Driver),
		slog.String("table", warehouseConfig.QualifiedTable()),
		slog.String("dsn", warehouseConfig.MaskDSN()),
	)

	serverConfig := api.LoadServerConfig()
	server := api.NewServer(serverConfig, orchestrator, logger)

	serverErrors := make(chan error, 1)

	go func() {
		serverErrors <- server.Start(ctx)
	}()

	runErr := orchestrator.Run(ctx)
	if runErr != nil && ctx.Err() == nil {
		logger.Error("Pipeline stopped unexpectedly", slog.String("error", runErr.Error()))
	}

	// The consumer context is gone; give the drain its own deadline.
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := orchestrator.Stop(stopCtx); err != nil {
		logger.Error("Pipeline shutdown failed", slog.String("error", err.Error()))
	}

	if err := <-serverErrors; err != nil {
		logger.Error("Monitoring server failed", slog.String("error", err.Error()))
	}

	logger.Info("Shutdown complete")
}

// checkKafka dials every configured broker and reports reachability.
func checkKafka(cfg ingest.KafkaConfig, logger *slog.Logger) int {
	if err := cfg.Validate(); err != nil {
		logger.Error("Kafka configuration invalid", slog.String("error", err.Error()))

		return 1
	}

	exit := 0

	for _, broker := range cfg.Brokers {
		conn, err := net.DialTimeout("tcp", broker, cfg.DialTimeout)
		if err != nil {
			logger.Error("Broker unreachable",
				slog.String("broker", broker),
				slog.String("error", err.Error()))

			exit = 1

			continue
		}

		_ = conn.Close()

		logger.Info("Broker reachable", slog.String("broker", broker))
	}

	return exit
}

// checkWarehouse opens a session and verifies the target table is queryable.
func checkWarehouse(cfg *warehouse.Config, logger *slog.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	session, err := warehouse.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Warehouse connection failed",
			slog.String("dsn", cfg.MaskDSN()),
			slog.String("error", err.Error()))

		return 1
	}

	defer func() {
		_ = session.Close()
	}()

	if err := session.EnsureTable(ctx); err != nil {
		logger.Error("Warehouse table check failed",
			slog.String("table", cfg.QualifiedTable()),
			slog.String("error", err.Error()))

		return 1
	}

	logger.Info("Warehouse reachable",
		slog.String("driver", cfg.Driver),
		slog.String("table", cfg.QualifiedTable()))

	return 0
}
