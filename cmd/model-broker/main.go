package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratoroute/model-broker/internal/config"
	"github.com/stratoroute/model-broker/internal/monitor"
	"github.com/stratoroute/model-broker/internal/predict"
	"github.com/stratoroute/model-broker/internal/providers"
	"github.com/stratoroute/model-broker/internal/providers/anthropic"
	"github.com/stratoroute/model-broker/internal/providers/gemini"
	"github.com/stratoroute/model-broker/internal/providers/ollama"
	"github.com/stratoroute/model-broker/internal/providers/openai"
	"github.com/stratoroute/model-broker/internal/quota"
	"github.com/stratoroute/model-broker/internal/routing"
	"github.com/stratoroute/model-broker/internal/server"
)

// Application wires the broker's components together.
type Application struct {
	config    *config.Config
	quota     *quota.Manager
	scheduler *quota.ResetScheduler
	monitor   *monitor.Monitor
	server    *server.Server
	logger    *logrus.Logger
}

// NewApplication builds the full component graph from configuration.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	clock := quota.NewRealClock()
	quotaMgr := quota.NewManager(cfg.QuotaConfig(), clock, logger)
	scheduler := quota.NewResetScheduler(quotaMgr, clock, logger)

	mon := monitor.New(cfg.Monitor, logger)

	// The tracker feeds calibration corrections back into the predictor.
	predictor := predict.NewPredictor(cfg.Catalog(), mon.Tracker, logger)

	registry := providers.NewRegistry(30*time.Second, logger)
	if err := registerProviders(registry, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to register providers: %w", err)
	}

	engine := routing.NewEngine(predictor, quotaMgr, registry, mon, logger)

	srv, err := server.NewServer(engine, quotaMgr, mon, registry, cfg.ToServerConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		config:    cfg,
		quota:     quotaMgr,
		scheduler: scheduler,
		monitor:   mon,
		server:    srv,
		logger:    logger,
	}, nil
}

// Run starts the application and blocks until shutdown.
func (app *Application) Run() error {
	app.logger.Info("Starting model broker")

	app.monitor.Start()
	app.scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.scheduler.Stop()
	app.monitor.Stop()

	app.logger.Info("Graceful shutdown completed")
	return nil
}

func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// registerProviders registers all enabled providers. A provider without a
// health-check credential is still registered when it has pooled keys; calls
// use pool credentials, not the provider config's.
func registerProviders(registry *providers.Registry, cfg *config.Config, logger *logrus.Logger) error {
	registered := 0

	if cfg.Providers.OpenAI != nil && len(cfg.Providers.OpenAI.Models) > 0 {
		registry.Register(openai.NewProvider(cfg.Providers.OpenAI, logger))
		logger.WithFields(logrus.Fields{
			"provider": "openai",
			"models":   len(cfg.Providers.OpenAI.Models),
		}).Info("Provider registered")
		registered++
	}
	if cfg.Providers.Anthropic != nil && len(cfg.Providers.Anthropic.Models) > 0 {
		registry.Register(anthropic.NewProvider(cfg.Providers.Anthropic, logger))
		logger.WithFields(logrus.Fields{
			"provider": "anthropic",
			"models":   len(cfg.Providers.Anthropic.Models),
		}).Info("Provider registered")
		registered++
	}
	if cfg.Providers.Gemini != nil && len(cfg.Providers.Gemini.Models) > 0 {
		registry.Register(gemini.NewProvider(cfg.Providers.Gemini, logger))
		logger.WithFields(logrus.Fields{
			"provider": "gemini",
			"models":   len(cfg.Providers.Gemini.Models),
		}).Info("Provider registered")
		registered++
	}
	if cfg.Providers.Ollama != nil && len(cfg.Providers.Ollama.Models) > 0 {
		registry.Register(ollama.NewProvider(cfg.Providers.Ollama, logger))
		logger.WithFields(logrus.Fields{
			"provider": "ollama",
			"models":   len(cfg.Providers.Ollama.Models),
		}).Info("Provider registered")
		registered++
	}

	if registered == 0 {
		return fmt.Errorf("no providers were registered - check your configuration")
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY            OpenAI API key\n")
	fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY         Anthropic API key\n")
	fmt.Fprintf(os.Stderr, "  GEMINI_API_KEY            Google Gemini API key\n")
	fmt.Fprintf(os.Stderr, "  OLLAMA_HOST               Ollama base URL (default http://localhost:11434)\n")
	fmt.Fprintf(os.Stderr, "  MODEL_BROKER_PORT         Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  MODEL_BROKER_LOG_LEVEL    Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  MODEL_BROKER_LOG_FORMAT   Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  MODEL_BROKER_INSTANT_CAP  Daily request cap for instant-tier users\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY=sk-xxx %s\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}
	if *version {
		fmt.Printf("Model Broker v1.0.0\n")
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
