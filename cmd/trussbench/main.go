// trussbench load harness — drives concurrent traffic against a generative
// inference endpoint and streams live metrics to a browser dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/trussbench/trussbench/pkg/api"
	"github.com/trussbench/trussbench/pkg/auth"
	"github.com/trussbench/trussbench/pkg/config"
	"github.com/trussbench/trussbench/pkg/dashboard"
	"github.com/trussbench/trussbench/pkg/events"
	"github.com/trussbench/trussbench/pkg/executor"
	"github.com/trussbench/trussbench/pkg/metrics"
	"github.com/trussbench/trussbench/pkg/models"
	"github.com/trussbench/trussbench/pkg/runner"
	"github.com/trussbench/trussbench/pkg/version"
)

// Exit codes: 0 success, 1 user interrupt or config error, 2 runtime failure.
const (
	exitOK        = 0
	exitConfig    = 1
	exitInterrupt = 1
	exitRuntime   = 2
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config",
		getEnv("TRUSSBENCH_CONFIG", ""),
		"Path to YAML configuration file (empty uses built-in defaults)")
	flag.Parse()

	// Load .env before anything reads the environment.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	logger := newLogger()
	slog.SetDefault(logger)
	logger.Info("Starting trussbench", "version", version.Full(), "config", *configPath)

	// 1. Configuration
	cfg, err := config.Initialize(*configPath)
	if err != nil {
		logger.Error("Failed to initialize configuration", "error", err)
		return exitConfig
	}

	// 2. Auth: a ~/.trussrc profile supplies both the token and the inference
	// base URL; otherwise the config's url/api_key pair is used directly.
	provider := auth.Provider(auth.Static(cfg.Target.APIKey))
	baseURL := cfg.Target.URL
	if cfg.Target.AuthProfile != "" {
		rc, err := auth.LoadTrussrc(auth.DefaultTrussrcPath())
		if err != nil {
			logger.Error("Failed to load ~/.trussrc", "error", err)
			return exitConfig
		}
		profile, ok := rc.Profile(cfg.Target.AuthProfile)
		if !ok {
			logger.Error("Unknown auth profile", "profile", cfg.Target.AuthProfile,
				"available", rc.Profiles())
			return exitConfig
		}
		provider = auth.Static(profile.APIKey)
		baseURL = profile.InferenceBaseURL()
		logger.Info("Using auth profile", "profile", profile.Name, "base_url", baseURL)
	}

	// 3. Event bus, replay history, and the streaming dashboard facade
	bus := events.NewBus(cfg.Server.EventQueueSize)
	dash := dashboard.NewStreaming(bus, logger)
	collector := metrics.NewCollector(metrics.DefaultWindowSize)

	// 4. Request executors — one per worker, created by the pool
	adapter := executor.Adapter(executor.OpenAIAdapter{})
	if cfg.Target.APIShape == executor.ShapePlain {
		adapter = executor.PlainAdapter{}
	}
	execCfg := executor.Config{
		BaseURL:          baseURL,
		Adapter:          adapter,
		Auth:             provider,
		Timeout:          cfg.Target.RequestTimeout.Std(),
		DisableStreaming: !cfg.Target.Streaming(),
		IgnoreEOS:        cfg.Target.IgnoreEOS,
	}
	newDoer := func() runner.RequestDoer {
		return executor.New(execCfg, logger)
	}

	// 5. Dashboard server
	server := api.NewServer(cfg.Server.Host, cfg.Server.Port, bus, dash, collector,
		cfg.Run, logger)

	// 6. Benchmark start hook: one run at a time, parameters read at start
	// time so WS updates apply to the next run.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var running atomic.Bool
	benchDone := make(chan error, 1)
	server.SetStartHandler(func() error {
		if !running.CompareAndSwap(false, true) {
			return fmt.Errorf("benchmark already running")
		}
		go func() {
			defer running.Store(false)
			params := server.Params()
			sched := runner.NewScheduler(runner.SchedulerConfig{
				Scenarios:         params.TrafficScenario,
				Concurrencies:     params.NumConcurrency,
				MaxRequestsPerRun: params.MaxRequestsPerRun,
				MaxTimePerRun:     params.MaxTimePerRun.Std(),
				Model:             cfg.Target.Model,
				Task:              models.Task(params.Task),
			}, collector, dash, newDoer, logger)
			benchDone <- sched.Run(ctx)
		}()
		return nil
	})

	// 7. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("trussbench ready", "target", baseURL,
		"scenarios", cfg.Run.TrafficScenario, "concurrency", cfg.Run.NumConcurrency)

	// 8. Wait for a shutdown signal, a server error, or benchmark completion
	code := exitOK
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		code = exitInterrupt
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
		code = exitRuntime
	case err := <-benchDone:
		switch {
		case err == nil:
			logger.Info("Benchmark finished")
		case errors.Is(err, context.Canceled):
			logger.Info("Benchmark interrupted")
			code = exitInterrupt
		default:
			logger.Error("Benchmark failed", "error", err)
			code = exitRuntime
		}
	}

	// 9. Graceful shutdown: stop accepting WS clients, final status event,
	// short grace for in-flight sends.
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
	return code
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
