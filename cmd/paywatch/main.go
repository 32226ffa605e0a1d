package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ceroxe/paywatch/internal/admission"
	"github.com/ceroxe/paywatch/internal/capture"
	"github.com/ceroxe/paywatch/internal/config"
	"github.com/ceroxe/paywatch/internal/monitor"
	"github.com/ceroxe/paywatch/internal/motion"
	"github.com/ceroxe/paywatch/internal/notify"
	"github.com/ceroxe/paywatch/internal/recognize"
	"github.com/ceroxe/paywatch/internal/server"
	"github.com/ceroxe/paywatch/internal/storage/sqlite"
	"github.com/ceroxe/paywatch/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("paywatch", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Monitor.CaptureCommand == "" || cfg.Monitor.RecognizeCommand == "" {
		log.Fatal("monitor.capture_command and monitor.recognize_command are required")
	}

	capturer, err := capture.NewCommandCapturer(cfg.Monitor.CaptureCommand)
	if err != nil {
		log.Fatalf("Failed to set up capture: %v", err)
	}
	recognizer, err := recognize.NewCommandRecognizer(cfg.Monitor.RecognizeCommand)
	if err != nil {
		log.Fatalf("Failed to set up recognizer: %v", err)
	}

	sampler := capture.NewSampler(capturer,
		capture.ScreenSize{Width: cfg.Monitor.ScreenWidth, Height: cfg.Monitor.ScreenHeight},
		cfg.Monitor.ROIWidth, cfg.Monitor.ROIHeight)

	loop := monitor.NewLoop(sampler,
		motion.New(cfg.Monitor.SampleStride, cfg.Monitor.MotionThreshold),
		recognizer,
		monitor.Tuning{
			IdleInterval:      time.Duration(cfg.Monitor.IdleIntervalMs) * time.Millisecond,
			BusyInterval:      time.Duration(cfg.Monitor.BusyIntervalMs) * time.Millisecond,
			HeartbeatInterval: time.Duration(cfg.Monitor.HeartbeatIntervalMs) * time.Millisecond,
			SerialPattern:     cfg.Monitor.SerialPattern,
		},
		logger)

	notifier := notify.New(cfg.Callback.Secret,
		cfg.Callback.RetryCount,
		time.Duration(cfg.Callback.RetryIntervalMs)*time.Millisecond,
		logger)

	var journal server.Journal
	if cfg.Storage.Path != "" {
		store, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("Failed to open session journal: %v", err)
		}
		defer store.Close()
		journal = store
	}

	// Cancelling sessionCtx aborts the in-flight session and any pending
	// callback delivery on shutdown.
	sessionCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	handler := server.NewPaymentHandler(sessionCtx,
		cfg.Auth.Token,
		time.Duration(cfg.Order.TimeoutSeconds)*time.Second,
		admission.New(), loop, notifier, journal, logger)

	srv := server.New(cfg.Server.Port, server.TLSFiles{
		Cert: cfg.Server.TLS.Cert,
		Key:  cfg.Server.TLS.Key,
	}, logger)
	srv.Router.Post("/", handler.HandleWatch)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("paywatch ready", slog.Int("port", cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	cancelSessions()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
