package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"stakereg/config"
	"stakereg/core/events"
	"stakereg/core/types"
	"stakereg/native/registry"
	"stakereg/native/voting"
	"stakereg/observability/logging"
	"stakereg/observability/otel"
	"stakereg/rpc"
	"stakereg/state"
	"stakereg/storage"
)

const serviceName = "stakeregd"

// logEmitter forwards engine events into the structured log stream.
type logEmitter struct {
	logger *slog.Logger
}

func (l *logEmitter) Emit(event events.Event) {
	if event == nil {
		return
	}
	attrs := []any{slog.String("type", event.EventType())}
	if carrier, ok := event.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			for k, v := range payload.Attributes {
				attrs = append(attrs, slog.String(k, v))
			}
		}
	}
	l.logger.Info("engine event", attrs...)
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "stakereg.db"))
	case config.BackendLevelDB:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "stakereg"))
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the daemon configuration file")
	flag.Parse()

	env := os.Getenv("STAKEREG_ENV")

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Setup(serviceName, env).Error("failed to load configuration", slog.String("path", configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	var logger *slog.Logger
	if cfg.LogFile != "" {
		logger = logging.SetupFile(serviceName, env, cfg.LogFile)
	} else {
		logger = logging.Setup(serviceName, env)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: serviceName,
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			logger.Error("failed to initialise telemetry", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("failed to open database", slog.String("backend", cfg.Backend), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	store := state.NewStore(db)
	emitter := &logEmitter{logger: logger}

	stakingEngine := registry.NewEngine()
	stakingEngine.SetState(store)
	stakingEngine.SetEmitter(emitter)

	votingEngine := voting.NewEngine()
	votingEngine.SetState(store)
	votingEngine.SetEmitter(emitter)
	votingEngine.SetExecutor(func(tx voting.TransactionPayload) error {
		// Passed payloads are recorded for the operator; nothing on the node
		// interprets them yet.
		logger.Info("proposal payload approved",
			slog.String("target", tx.Target),
			slog.Int("bytes", len(tx.Data)),
		)
		return nil
	})

	server := rpc.NewServer(stakingEngine, votingEngine, store, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress)
	}()

	logger.Info("stakeregd started",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("backend", cfg.Backend),
		slog.String("data_dir", cfg.DataDir),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("rpc server stopped", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
}
