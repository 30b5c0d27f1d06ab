package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"leadflow/internal/config"
	"leadflow/internal/constants"
	"leadflow/internal/database"
	"leadflow/internal/media"
	"leadflow/internal/models"
	"leadflow/internal/privacy"
	"leadflow/internal/requestinfo"
	"leadflow/internal/service"
	"leadflow/internal/tracing"
	"leadflow/pkg/whatsapp"
	"leadflow/pkg/whatsapp/types"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes unmasked phone numbers)")
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("leadflow %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, logSink := newLogger(cfg.Logging, *verbose)
	if logSink != nil {
		defer logSink.Close()
	}

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting leadflow")

	if *verbose {
		logger.Info("Verbose logging enabled - phone numbers will be logged unmasked")
	}

	watcher := config.NewConfigWatcher(*configPath, cfg, logger)
	watcher.OnConfigChange(func(next *models.Config) {
		if *verbose {
			return
		}
		logger.SetLevel(parseLevel(next.Logging.Level, logger))
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := database.New(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	db.SetLogger(logger)

	gateway := whatsapp.NewClientWithLogger(types.ClientConfig{
		BaseURL:             cfg.Gateway.APIBaseURL,
		APIKey:              cfg.Gateway.APIKey,
		Timeout:             cfg.Gateway.Timeout,
		BreakerMaxFailures:  uint32(cfg.Gateway.BreakerMaxFail),
		BreakerResetTimeout: cfg.Gateway.BreakerReset,
	}, logger)

	images := media.NewImageResolver(cfg.Media, logger)
	orchestrator := service.NewOrchestrator(db, gateway, images, cfg.Pipeline, cfg.Gateway, logger)

	dispatcher := service.NewDispatcher(orchestrator, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger)
	dispatcher.Start(service.WithVerbose(ctx, *verbose))

	intake := service.NewIntake(db, dispatcher, cfg.Intake, logger)

	if cfg.Replay.Enabled {
		replay := service.NewReplayScheduler(db, dispatcher, cfg.Replay, logger)
		go replay.Start(ctx)
		defer replay.Stop()
	} else {
		logger.Info("Replay scheduler is disabled")
	}

	sessionMonitor := service.NewSessionMonitor(gateway, db, logger, cfg.Gateway.HealthCheck, cfg.Gateway.StartupTimeout)
	sessionMonitor.Start(ctx)
	defer sessionMonitor.Stop()

	enricher, err := requestinfo.NewEnricher(cfg.GeoIP.DatabasePath, cfg.Server.TrustProxyHeaders)
	if err != nil {
		logger.WithError(err).Warn("GeoIP lookups disabled")
		enricher, _ = requestinfo.NewEnricher("", cfg.Server.TrustProxyHeaders)
	}
	defer enricher.Close()

	server := NewServer(cfg.Server, intake, db, enricher, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Dispatch runs were cut short; unprocessed submissions will be replayed")
	}
	orchestrator.Contacts().Wait()

	logger.Info("Shutdown completed")
	return nil
}

// newLogger builds the JSON logger, masking sensitive fields unless verbose.
// A configured log file is rotated by lumberjack and teed with stdout.
func newLogger(cfg models.LoggingConfig, verbose bool) (*logrus.Logger, io.Closer) {
	logger := logrus.New()
	logger.SetFormatter(&privacy.MaskingFormatter{
		Inner:    &logrus.JSONFormatter{},
		Disabled: verbose,
	})

	var sink *lumberjack.Logger
	if cfg.File != "" {
		sink = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, sink))
	} else {
		logger.SetOutput(os.Stdout)
	}

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(parseLevel(cfg.Level, logger))
	}

	if sink == nil {
		return logger, nil
	}
	return logger, sink
}

func parseLevel(raw string, logger *logrus.Logger) logrus.Level {
	if raw == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", raw)
		return logrus.InfoLevel
	}
	return level
}
