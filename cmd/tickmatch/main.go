package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/internal/api"
	"github.com/tickmatch/tickmatch/internal/infrastructure/config"
	"github.com/tickmatch/tickmatch/internal/infrastructure/telemetry"
	"github.com/tickmatch/tickmatch/internal/marketdata"
	"github.com/tickmatch/tickmatch/internal/trading/engine"
	"github.com/tickmatch/tickmatch/internal/trading/eventjournal"
	"github.com/tickmatch/tickmatch/internal/trading/orderbook"
	"github.com/tickmatch/tickmatch/pkg/clock"
	"github.com/tickmatch/tickmatch/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	configPath := flag.String("config", "", "path to config file (default: probe conventional locations)")
	flag.Parse()

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(context.Background())
		if err != nil {
			zapLogger.Fatal("Failed to set up telemetry", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				zapLogger.Error("Telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	// Contract catalog; every tradable symbol is provisioned up front.
	catalog, err := config.LoadCatalog(cfg.ContractsPath)
	if err != nil {
		zapLogger.Fatal("Failed to load contract catalog", zap.Error(err))
	}
	orderbook.Preload(catalog.Symbols())
	specs, err := catalog.BookSpecs()
	if err != nil {
		zapLogger.Fatal("Failed to compile contract catalog", zap.Error(err))
	}

	var journal *eventjournal.Journal
	var sink engine.EventSink
	if cfg.Journal.Enabled {
		journal, err = eventjournal.Open(cfg.Journal.Path, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to open event journal", zap.Error(err))
		}
		sink = journal
	}

	// Matching timestamps come from the cached clock; one shard stamping
	// thousands of events per second should not pay a syscall each time.
	cached := clock.NewCached(0)
	cfg.Engine.Now = cached.Now

	eng, err := engine.New(cfg.Engine, specs, sink, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create matching engine", zap.Error(err))
	}
	if journal != nil {
		applied, err := eng.Restore(journal)
		if err != nil {
			zapLogger.Fatal("Failed to restore engine from journal",
				zap.Int("applied", applied), zap.Error(err))
		}
	}

	hub := marketdata.NewHub(marketdata.HubConfig{
		ReplayDepth:  cfg.Feed.ReplayDepth,
		WriteTimeout: cfg.Feed.WriteTimeout,
		SendBuffer:   cfg.Feed.SendBuffer,
	}, zapLogger)

	var publisher *marketdata.Publisher
	if cfg.Kafka.Enabled {
		publisher, err = marketdata.NewPublisher(marketdata.PublisherConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to create kafka publisher", zap.Error(err))
		}
	}

	// The distributor must outlive Stop: the engine drain blocks if nobody
	// consumes the egress channel.
	dist := marketdata.NewDistributor(hub, publisher, zapLogger)
	distDone := make(chan struct{})
	go func() {
		dist.Run(eng.Outputs())
		close(distDone)
	}()

	if err := eng.Start(); err != nil {
		zapLogger.Fatal("Failed to start matching engine", zap.Error(err))
	}

	monitor := engine.NewMonitor(eng, engine.DefaultSampleInterval, zapLogger)
	monitor.Start()

	conv := api.NewPriceConverter(catalog.PriceScales())

	var gateway *api.Gateway
	if cfg.Gateway.Enabled {
		gateway = api.NewGateway(api.GatewayConfig{
			Addr:          fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
			MaxFrameBytes: cfg.Gateway.MaxFrameBytes,
			IdleTimeout:   cfg.Gateway.IdleTimeout,
		}, eng, conv, zapLogger)
		if err := gateway.Start(); err != nil {
			zapLogger.Fatal("Failed to start order gateway", zap.Error(err))
		}
	}

	httpSrv := api.NewHTTPServer(api.HTTPConfig{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, eng, conv, hub, zapLogger)
	go func() {
		zapLogger.Info("Starting API server",
			zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))
		if err := httpSrv.Start(); err != nil {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	// Stop order entry first so no new commands arrive, then drain the
	// engine. Feed sinks close only after the distributor has flushed the
	// last drained trades.
	if gateway != nil {
		gateway.Stop()
	}
	if err := eng.Stop(); err != nil {
		zapLogger.Error("Failed to stop matching engine", zap.Error(err))
	}
	<-distDone
	monitor.Stop()
	hub.Stop()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			zapLogger.Error("Failed to close kafka publisher", zap.Error(err))
		}
	}
	if journal != nil {
		if err := journal.Close(); err != nil {
			zapLogger.Error("Failed to close event journal", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		zapLogger.Error("API server shutdown failed", zap.Error(err))
	}
	cached.Stop()

	zapLogger.Info("Server exited properly")
}
