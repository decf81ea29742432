package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/podscribe/internal/api"
	"github.com/snarg/podscribe/internal/config"
	"github.com/snarg/podscribe/internal/feed"
	"github.com/snarg/podscribe/internal/ingest"
	"github.com/snarg/podscribe/internal/notify"
	"github.com/snarg/podscribe/internal/state"
	"github.com/snarg/podscribe/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	// Config
	early := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg, err := config.Load(early)
	if err != nil {
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level := zerolog.InfoLevel
	if cfg.DebugLogging {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("podscribe starting")

	if !cfg.HasSources() {
		log.Fatal().Msg("no sources configured: set PODCAST_FEEDS and/or IMPORT_DIR")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Directory bootstrap
	dirs := []string{cfg.OutputDir, cfg.TranscriptsDir()}
	if cfg.KeepAudio {
		dirs = append(dirs, cfg.AudioKeepDir())
	}
	if cfg.ImportDir != "" {
		dirs = append(dirs, cfg.ImportDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create directory")
		}
	}

	// Transcription engine, probed before any work is accepted
	engLog := log.With().Str("component", "transcribe").Logger()
	engine, err := transcribe.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure transcription engine")
	}
	if err := engine.Load(ctx); err != nil {
		log.Fatal().Err(err).Str("engine", engine.Name()).Str("model", engine.Model()).Msg("transcription engine not ready")
	}
	engLog.Info().Str("engine", engine.Name()).Str("model", engine.Model()).Msg("transcription engine ready")

	// Processed-episode state
	store := state.Open(cfg.StateFile(), log.With().Str("component", "state").Logger())
	log.Info().Int("known_episodes", store.Len()).Msg("state loaded")

	// Clear leftovers from an interrupted previous run
	ingest.SweepTemp(cfg, log.With().Str("component", "sweep").Logger())

	notifier := notify.New(cfg.WebhookURL, log.With().Str("component", "notify").Logger())
	pipeline := ingest.NewPipeline(cfg, store, engine, notifier, log.With().Str("component", "pipeline").Logger())

	// Import folder scanner and watcher
	var scanner *ingest.Scanner
	var wake <-chan struct{}
	if cfg.ImportDir != "" {
		scanner = ingest.NewScanner(cfg.ImportDir, log.With().Str("component", "import").Logger())

		watcher := ingest.NewWatcher(cfg.ImportDir, log.With().Str("component", "watcher").Logger())
		if err := watcher.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("import watcher unavailable, relying on polling")
		} else {
			wake = watcher.Wake()
		}
	}

	fetcher := feed.NewFetcher(30 * time.Second)
	sched := ingest.NewScheduler(cfg, pipeline, fetcher, scanner, wake, log.With().Str("component", "scheduler").Logger())

	// HTTP server in background
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, engine, pipeline, sched, store, version, startTime, httpLog)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	go func() {
		if err := <-errCh; err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	sched.Run(ctx)

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("podscribe stopped")
}
