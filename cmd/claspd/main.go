// Package main implements claspd, the CLASP signal-distribution
// daemon: the engine core with its WebSocket gateway, optional NATS
// federation bridge, and observability endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/lumencanvas/clasp/config"
	"github.com/lumencanvas/clasp/engine"
	"github.com/lumencanvas/clasp/federation"
	"github.com/lumencanvas/clasp/gateway"
	"github.com/lumencanvas/clasp/health"
	"github.com/lumencanvas/clasp/metric"
)

const (
	// Version is the build version, overridden at link time.
	Version = "0.1.0"
	appName = "claspd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags := parseFlags()
	if flags.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfiguration(flags)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if flags.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	slog.Info("starting claspd",
		"version", Version,
		"config_path", flags.ConfigPath,
		"gateway", cfg.Gateway.Enabled,
		"federation", cfg.Federation.Enabled,
		"observability", cfg.Observability.Enabled)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	registry := metric.NewRegistry()
	checker := health.NewChecker(appName)

	eng := engine.New(cfg.Engine,
		engine.WithLogger(logger),
		engine.WithMetrics(registry.CoreMetrics()),
	)
	if err := eng.Initialize(); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	if err := eng.Start(signalCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	checker.Register("engine", func() health.Status {
		return health.Healthy("engine", fmt.Sprintf("%d sessions, %d subscriptions",
			eng.SessionCount(), eng.SubscriptionCount()))
	})

	var gatewayErr, observerErr <-chan error

	var gw *gateway.Server
	if cfg.Gateway.Enabled {
		gw = gateway.NewServer(cfg.Gateway, eng, logger, registry)
		gatewayErr, err = gw.Start()
		if err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
		checker.Register("gateway", func() health.Status {
			return health.Healthy("gateway", fmt.Sprintf("%d clients", gw.ClientCount()))
		})
	}

	var bridge *federation.Bridge
	if cfg.Federation.Enabled {
		bridge = federation.NewBridge(cfg.Federation, eng, nil, logger)
		if err := bridge.Initialize(); err != nil {
			return fmt.Errorf("initialize federation: %w", err)
		}
		if err := bridge.Start(signalCtx); err != nil {
			return fmt.Errorf("start federation: %w", err)
		}
		checker.Register("federation", bridge.Health)
	}

	var observer *metric.Server
	if cfg.Observability.Enabled {
		observer = metric.NewServer(cfg.Observability.Addr, registry)
		observer.Handle("/healthz", checker.Handler())
		observerErr, err = observer.Start()
		if err != nil {
			return fmt.Errorf("start observability server: %w", err)
		}
		slog.Info("observability serving", "addr", cfg.Observability.Addr)
	}

	slog.Info("claspd ready")

	select {
	case <-signalCtx.Done():
		slog.Info("received shutdown signal")
	case err := <-gatewayErr:
		if err != nil {
			slog.Error("gateway failed", "error", err)
		}
	case err := <-observerErr:
		if err != nil {
			slog.Error("observability server failed", "error", err)
		}
	}

	return shutdown(flags.ShutdownTimeout, eng, gw, bridge, observer)
}

func loadConfiguration(flags *cliFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.ConfigPath != "" {
		cfg, err = config.Load(flags.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	if flags.LogFormat != "" {
		cfg.LogFormat = flags.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func shutdown(timeout time.Duration, eng *engine.Engine, gw *gateway.Server, bridge *federation.Bridge, observer *metric.Server) error {
	var firstErr error
	record := func(err error, what string) {
		if err != nil {
			slog.Warn("shutdown step failed", "step", what, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", what, err)
			}
		}
	}

	if gw != nil {
		record(gw.Stop(timeout), "stop gateway")
	}
	if bridge != nil {
		record(bridge.Stop(timeout), "stop federation")
	}
	if observer != nil {
		record(observer.Stop(timeout), "stop observability server")
	}
	record(eng.Stop(timeout), "stop engine")

	slog.Info("shutdown complete")
	return firstErr
}
