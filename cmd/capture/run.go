package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/mic-capture-service/internal/audio"
	"github.com/skypro1111/mic-capture-service/internal/capture"
	"github.com/skypro1111/mic-capture-service/internal/config"
	"github.com/skypro1111/mic-capture-service/internal/discovery"
	"github.com/skypro1111/mic-capture-service/internal/metrics"
	"github.com/skypro1111/mic-capture-service/internal/server"
	"github.com/skypro1111/mic-capture-service/internal/storage"
	"github.com/skypro1111/mic-capture-service/internal/stream"
	"github.com/skypro1111/mic-capture-service/internal/transcription"
	"github.com/skypro1111/mic-capture-service/internal/vad"
)

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("device_address", cfg.Device.Address),
		slog.String("discovery_service", cfg.Device.DiscoveryService),
		slog.Int("sample_rate", cfg.Capture.SampleRate),
		slog.Float64("segment_duration", cfg.Capture.SegmentDuration),
		slog.String("retention", cfg.Capture.Retention),
		slog.String("output_backend", cfg.Output.Backend),
		slog.Bool("transcription_enabled", cfg.Transcription.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	peer := cfg.Device.Address
	if cfg.Device.DiscoveryService != "" {
		resolver := discovery.NewResolver(cfg.Device.DiscoveryService, cfg.Device.GetDiscoveryTimeout(), logger)
		addr, err := resolver.Resolve(ctx)
		if err != nil {
			logger.Warn("Device discovery failed, using configured address",
				slog.String("address", peer),
				slog.String("error", err.Error()),
			)
		} else {
			peer = addr
		}
	}

	buffer := audio.NewSampleBuffer(audio.BufferConfig{
		SampleRate: cfg.Capture.SampleRate,
		Retention:  audio.RetentionPolicy(cfg.Capture.Retention),
		Capacity:   cfg.Capture.CapacitySamples(),
		Overflow:   audio.OverflowPolicy(cfg.Capture.Overflow),
	})

	controller := capture.NewController(capture.Options{
		PeerAddress:    peer,
		LocalAddress:   cfg.Device.LocalAddress,
		ReceiveTimeout: cfg.Device.GetReceiveTimeout(),
		RetryBackoff:   cfg.Device.GetRetryBackoff(),
		ReadBufferSize: cfg.Device.BufferSize,
		MaxWait:        cfg.Capture.GetMaxWait(),
		ResetOnStart:   cfg.Capture.ResetOnStart,
	}, buffer, logger, appMetrics)

	store, err := newFileStore(cfg.Output)
	if err != nil {
		return err
	}
	writer := storage.NewSegmentWriter(store, logger, appMetrics)
	logger.Info("Segment store initialized", slog.String("location", writer.Location()))

	startIndex := 0
	if cfg.Output.Resume {
		startIndex, err = writer.NextIndex(ctx, 0)
		if err != nil {
			return fmt.Errorf("failed to find next segment index: %w", err)
		}
		logger.Info("Resuming segment numbering", slog.Int("start_index", startIndex))
	}

	var (
		transcriber         transcription.Transcriber
		transcriptionStatus server.TranscriptionStatus
	)
	if cfg.Transcription.Enabled {
		client, err := transcription.NewClient(transcription.Config{
			Endpoint:   cfg.Transcription.Endpoint,
			APIKey:     cfg.Transcription.APIKey,
			Language:   cfg.Transcription.Language,
			Timeout:    cfg.Transcription.GetTimeoutDuration(),
			MaxRetries: cfg.Transcription.MaxRetries,
			SampleRate: cfg.Transcription.SampleRate,
		}, logger, appMetrics)
		if err != nil {
			return fmt.Errorf("failed to create transcription client: %w", err)
		}
		transcriber = client
		transcriptionStatus = client
		logger.Info("Transcription client initialized",
			slog.String("endpoint", cfg.Transcription.Endpoint),
		)
	}

	var detector *vad.Detector
	if transcriber != nil && cfg.Transcription.SilenceThreshold > 0 {
		// 20 ms windows
		detector, err = vad.NewDetector(float32(cfg.Transcription.SilenceThreshold), max(cfg.Capture.SampleRate/50, 1))
		if err != nil {
			return fmt.Errorf("failed to create silence detector: %w", err)
		}
		logger.Info("Silence detector enabled", slog.Float64("threshold", float64(detector.Threshold())))
	}

	runner, err := stream.NewRunner(stream.Config{
		SegmentDuration: cfg.Capture.GetSegmentDuration(),
		StartIndex:      startIndex,
		Detector:        detector,
	}, controller, writer, transcriber, logger)
	if err != nil {
		return fmt.Errorf("failed to create segment runner: %w", err)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, server.Dependencies{
			Capture:       controller,
			Runner:        runner,
			Transcription: transcriptionStatus,
			Metrics:       appMetrics,
			Gatherer:      prometheus.DefaultGatherer,
		})
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	// The signal goroutine only requests shutdown; joining happens below
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			controller.Cleanup()
		case <-ctx.Done():
		}
	}()

	var runErr error
	if err := controller.Start(ctx); err != nil {
		runErr = fmt.Errorf("failed to start capture: %w", err)
	} else {
		logger.Info("Service started successfully, waiting for segments...",
			slog.String("peer", peer),
			slog.Duration("segment_duration", cfg.Capture.GetSegmentDuration()),
		)
		if err := runner.Run(ctx); err != nil {
			runErr = fmt.Errorf("segment runner failed: %w", err)
		}
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := controller.Close(); err != nil {
		logger.Error("Error stopping capture", slog.String("error", err.Error()))
	}

	stats := controller.Statistics()
	runStats := runner.GetStats()
	logger.Info("Final capture statistics",
		slog.Uint64("sessions", stats.Sessions),
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("malformed_datagrams", stats.MalformedDatagrams),
		slog.Uint64("samples_received", stats.SamplesReceived),
		slog.Uint64("samples_dropped", stats.Buffer.SamplesDropped),
		slog.Int("samples_buffered", stats.Buffer.Size),
		slog.Uint64("segments_processed", runStats.SegmentsProcessed),
		slog.Uint64("save_failures", runStats.SaveFailures),
		slog.Uint64("transcription_failures", runStats.TranscriptionFailures),
		slog.Uint64("silent_skipped", runStats.SilentSkipped),
	)

	logger.Info("Service stopped")
	return runErr
}

// newFileStore builds the storage backend selected by cfg.Backend
func newFileStore(cfg config.OutputConfig) (storage.FileStore, error) {
	switch cfg.Backend {
	case "s3":
		client := storage.NewS3Client(storage.S3Options{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		return storage.NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
	default:
		store, err := storage.NewLocal(cfg.Directory)
		if err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		return store, nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
