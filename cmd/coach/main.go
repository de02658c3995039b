package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/speech-coach/internal/audio"
	"github.com/lexiqai/speech-coach/internal/backend"
	"github.com/lexiqai/speech-coach/internal/capture"
	"github.com/lexiqai/speech-coach/internal/config"
	"github.com/lexiqai/speech-coach/internal/controller"
	"github.com/lexiqai/speech-coach/internal/gateway"
	"github.com/lexiqai/speech-coach/internal/history"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/lexiqai/speech-coach/internal/stt"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("backend_url", cfg.BackendURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Speech Coach starting")

	client := backend.NewClient(cfg)
	recognizer := stt.NewDeepgramRecognizer(cfg)
	engine := capture.NewEngine(recognizer, audio.NewMalgoMicrophone(), capture.Config{
		Format:        audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		BufferSize:    cfg.AudioBufferSize,
		ChunkInterval: cfg.ChunkInterval(),
		RestartDelay:  cfg.RestartDelay(),
	})

	opts := controller.Options{
		PollInterval:   cfg.PollInterval(),
		RequestTimeout: cfg.BackendRequestTimeout(),
	}

	// Optional local archive of final analyses
	var archive *history.Store
	if cfg.HistoryPath != "" {
		archive, err = history.Open(cfg.HistoryPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.HistoryPath).Msg("Failed to open history archive")
		}
		defer archive.Close()
		opts.Archive = archive
		logger.Info().Str("path", cfg.HistoryPath).Msg("Analysis history enabled")
	}

	ctrl := controller.New(client, engine, opts)

	var hist gateway.History
	if archive != nil {
		hist = archive
	}
	gw := gateway.NewServer(ctrl, hist, cfg.AllowedOrigins)

	// Create HTTP server
	mux := http.NewServeMux()
	gw.Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness covers everything a recording needs
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"coach_backend":         client.Ping,
		"coach_backend_circuit": client.CircuitCheck,
		"deepgram": func(ctx context.Context) (bool, error) {
			// Configuration only; opening a stream would be billed
			if !recognizer.Configured() {
				return false, errors.New("deepgram api key not configured")
			}
			return true, nil
		},
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// WriteTimeout stays 0: /ws connections are long-lived and /api/stop
	// waits for the backend analysis
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Same stop sequence as an explicit stop, so an open recording is analysed
	if err := ctrl.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Recording teardown failed")
	}
	if err := engine.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to release capture devices")
	}
	gw.Close()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
