package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/busybox42/decency/internal/config"
	"github.com/busybox42/decency/internal/disposition"
	"github.com/busybox42/decency/internal/frontend"
	"github.com/busybox42/decency/internal/metricsx"
	"github.com/busybox42/decency/internal/notify"
	"github.com/busybox42/decency/internal/pipeline"
	"github.com/busybox42/decency/internal/reinject"
	"github.com/busybox42/decency/internal/wiring"
)

var listenOverride string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the content filter daemon",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().StringVar(&listenOverride, "listen", "", "override server.listen from the config file")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if listenOverride != "" {
		cfg.Server.Listen = listenOverride
	}

	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)

	graph, err := wiring.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("build object graph: %w", err)
	}
	defer graph.Cache.Close()
	if graph.Statstore != nil {
		defer graph.Statstore.Close()
	}

	reinjector := reinject.New(reinject.Config{
		Host:               cfg.Reinject.Host,
		Port:               cfg.Reinject.Port,
		BreakerMaxFailures: uint32(cfg.Reinject.BreakerMaxFailures),
	})

	notifier, err := notify.New(graph.Spool.FailureDir(), cfg.Disposition.NotificationTemplate)
	if err != nil {
		return fmt.Errorf("build notifier: %w", err)
	}

	dispEngine := disposition.New(graph.Policy, graph.Spool, reinjector, notifier)
	strictSpam := disposition.SpamBehavior(cfg.Disposition.SpamBehavior) == disposition.SpamBehaviorStrict
	pipelineEngine := pipeline.New(graph.Modules, strictSpam, logger)

	var metrics *metricsx.Metrics
	var metricsServer *metricsx.Server
	if cfg.Metrics.Enabled {
		metrics = metricsx.Get()
		metricsServer = metricsx.StartServer(cfg.Metrics.Listen)
		defer metricsServer.ShutdownDefault()
	}

	srv, err := frontend.New(frontend.Config{
		ListenAddr:     cfg.Server.Listen,
		MaxWorkers:     cfg.Server.MaxWorkers,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		HELOName:       cfg.Server.HELOName,
	}, graph.Spool, graph.QueueCache, pipelineEngine, dispEngine, metrics, logger)
	if err != nil {
		return fmt.Errorf("start frontend: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		srv.Close()
	}()

	logger.Info("decency listening", "addr", srv.Addr().String())
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
