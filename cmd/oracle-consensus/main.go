package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tc.com/oracle-consensus/pkg/config"
	"tc.com/oracle-consensus/pkg/logging"
	"tc.com/oracle-consensus/pkg/metrics"
	"tc.com/oracle-consensus/pkg/oracle/engine"
	"tc.com/oracle-consensus/pkg/server/api"
	"tc.com/oracle-consensus/pkg/snapshot"
)

const version = "0.1.0-dev"

var (
	configFile = flag.String("config", "config/config.yaml", "Path to configuration file")
	showVer    = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("oracle-consensus version %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting oracle-consensus", "version", version, "admin", cfg.Engine.Admin)

	if cfg.Metrics.Enabled {
		metrics.Init()
		go func() {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metrics.ServeHTTP(cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	eng := engine.New(engine.Config{
		Admin:          cfg.Engine.Admin,
		MinOracleNodes: cfg.Engine.MinOracleNodes,
		EmergencyStop:  cfg.Engine.EmergencyStop,
	}, engine.SystemClock{}, logger)

	var snapshotPub *snapshot.Publisher
	if cfg.Snapshot.Enabled {
		snapshotPub, err = snapshot.NewPublisher(
			cfg.Snapshot.Addr,
			cfg.Snapshot.Password,
			cfg.Snapshot.DB,
			cfg.Snapshot.TTL.ToDuration(),
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to connect snapshot cache", "error", err)
		}
		eng.AddPublisher(snapshotPub)
		logger.Info("Snapshot cache enabled", "addr", cfg.Snapshot.Addr)
	}

	var wsServer *api.WebSocketServer
	if cfg.Server.WebSocket.Enabled {
		wsServer = api.NewWebSocketServer(cfg.Server.WebSocket.Addr, logger)
		eng.AddPublisher(wsServer)
	}

	server := api.NewServer(cfg.Server.HTTP.Addr, eng, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 2)

	go func() {
		errChan <- server.Start()
	}()

	if wsServer != nil {
		go func() {
			errChan <- wsServer.Start(ctx)
		}()
	}

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		if err != nil {
			logger.Error("Component failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down gracefully...")
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if wsServer != nil {
		wsServer.Stop()
	}
	if snapshotPub != nil {
		if err := snapshotPub.Close(); err != nil {
			logger.Error("Snapshot cache close error", "error", err)
		}
	}
	logger.Info("Shutdown complete")
}
