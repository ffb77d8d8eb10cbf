package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/api"
	"github.com/snarg/scribe-engine/internal/archive"
	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/crypto"
	"github.com/snarg/scribe-engine/internal/diarize"
	"github.com/snarg/scribe-engine/internal/ingest"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/notegen"
	"github.com/snarg/scribe-engine/internal/sanitize"
	"github.com/snarg/scribe-engine/internal/session"
	"github.com/snarg/scribe-engine/internal/store"
	"github.com/snarg/scribe-engine/internal/transcribe"

	"github.com/prometheus/client_golang/prometheus"
)

var version = "dev"

// backendFactory builds transcription engines and note generators by name,
// from the shared configuration. Used for the default pipeline and for
// comparison branches.
type backendFactory struct {
	cfg *config.Config
}

func (f *backendFactory) Engine(name string) (transcribe.Engine, error) {
	switch name {
	case "vosk":
		return transcribe.NewVoskClient(f.cfg.VoskURL, f.cfg.VoskModel, f.cfg.TranscribeTimeout), nil
	case "whisper":
		return transcribe.NewWhisperClient(f.cfg.WhisperURL, f.cfg.WhisperAPIKey, f.cfg.WhisperModel, f.cfg.TranscribeTimeout), nil
	case "azure_speech":
		return transcribe.NewAzureSpeechClient(f.cfg.AzureSpeechURL, f.cfg.AzureSpeechKey, f.cfg.TranscribeTimeout), nil
	default:
		return nil, fmt.Errorf("unknown transcription engine %q", name)
	}
}

func (f *backendFactory) Generator(name string) (notegen.Generator, error) {
	switch name {
	case "azure_openai":
		return notegen.NewAzureOpenAIClient(f.cfg.AzureOAIEndpoint, f.cfg.AzureOAIDeploy,
			f.cfg.AzureOAIVersion, f.cfg.AzureOAIKey, f.cfg.GenerateTimeout), nil
	case "bridge":
		return notegen.NewBridgeClient(f.cfg.BridgeURL, f.cfg.BridgeModel, f.cfg.GenerateTimeout), nil
	default:
		return nil, fmt.Errorf("unknown note backend %q", name)
	}
}

func main() {
	startTime := time.Now()

	var flags config.Overrides
	flag.StringVar(&flags.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&flags.HTTPAddr, "addr", "", "HTTP listen address")
	flag.StringVar(&flags.LogLevel, "log-level", "", "log level (trace..error)")
	flag.StringVar(&flags.ASREngine, "asr", "", "transcription engine (vosk, whisper, azure_speech)")
	flag.StringVar(&flags.NoteBackend, "note-backend", "", "note backend (azure_openai, bridge)")
	flag.StringVar(&flags.DataDir, "data-dir", "", "artifact data directory")
	flag.StringVar(&flags.InboxDir, "inbox", "", "watch-folder inbox directory")
	flag.Parse()

	// Config
	cfg, err := config.Load(flags)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("engine", cfg.ASREngine).
		Str("note_backend", cfg.NoteBackend).Msg("scribe-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Artifact store, optionally sealed at rest
	storeLog := log.With().Str("component", "store").Logger()
	artifacts, err := store.New(store.S3Options{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		Prefix:    cfg.S3Prefix,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	}, cfg.DataDir, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize artifact store")
	}
	if cfg.EncryptAtRest {
		keys, kerr := crypto.LoadKeyring(cfg.EncryptionKey)
		if kerr != nil {
			log.Fatal().Err(kerr).Msg("failed to load encryption key")
		}
		artifacts = store.NewEncryptedStore(artifacts, crypto.NewService(keys))
		log.Info().Msg("artifact encryption at rest enabled")
	}

	// Note archive
	arch, err := archive.Open(cfg.ArchivePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open archive")
	}
	defer arch.Close()

	// Templates
	templates := notegen.NewRegistry()
	if cfg.TemplatesPath != "" {
		if err := templates.LoadFile(cfg.TemplatesPath); err != nil {
			log.Fatal().Err(err).Str("path", cfg.TemplatesPath).Msg("failed to load templates")
		}
	}

	// Pipeline backends
	factory := &backendFactory{cfg: cfg}
	engine, err := factory.Engine(cfg.ASREngine)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build transcription engine")
	}
	generator, err := factory.Generator(cfg.NoteBackend)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build note generator")
	}

	retry := session.RetryPolicy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
		Multiplier:     cfg.RetryMultiplier,
	}
	sanitizer := sanitize.New(sanitize.Options{})
	labeler := &diarize.Labeler{SilenceGap: cfg.SilenceGap, Roles: cfg.SpeakerRoles}

	controller := session.NewController(session.Options{
		Engine:         engine,
		Generator:      generator,
		Sanitizer:      sanitizer,
		Labeler:        labeler,
		Templates:      templates,
		Archive:        arch,
		Artifacts:      artifacts,
		Retry:          retry,
		TranscribeOpts: transcribe.Options{Language: cfg.Language},
		SampleRate:     cfg.SampleRate,
		Channels:       cfg.Channels,
		LowConfidence:  cfg.LowConfidence,
		Logger:         log,
	})

	// Watch-folder ingest
	var watcher *ingest.Watcher
	if cfg.InboxDir != "" {
		watcher = ingest.NewWatcher(cfg.InboxDir,
			func(ctx context.Context, consent session.ConsentRecord, artifact *audio.Artifact, templateID string) error {
				_, perr := controller.Process(ctx, consent, artifact, templateID)
				return perr
			}, log)
		if err := watcher.Start(); err != nil {
			log.Fatal().Err(err).Str("inbox", cfg.InboxDir).Msg("failed to start inbox watcher")
		}
		defer watcher.Stop()
	}

	// Scrape-time gauges
	var inboxStats metrics.InboxStats
	if watcher != nil {
		inboxStats = watcher
	}
	prometheus.MustRegister(metrics.NewCollector(controller, inboxStats))

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, api.Deps{
		Controller: controller,
		Runner: &session.Runner{
			Sanitizer: sanitizer,
			Labeler:   labeler,
			Retry:     retry,
			Opts:      transcribe.Options{Language: cfg.Language},
		},
		Factory:   factory,
		Templates: templates,
		Version:   version,
		StartTime: startTime,
	}, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("scribe-engine stopped")
}
