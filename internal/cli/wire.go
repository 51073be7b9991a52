package cli

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sjawhar/tish/internal/config"
	"github.com/sjawhar/tish/internal/llm"
	"github.com/sjawhar/tish/internal/observe"
	"github.com/sjawhar/tish/internal/pipeline"
	"github.com/sjawhar/tish/internal/safety"
	"github.com/sjawhar/tish/internal/session"
	"github.com/sjawhar/tish/internal/speech"
	"github.com/sjawhar/tish/internal/storage"
	"github.com/sjawhar/tish/internal/transcribe"
)

// app is everything a long-running command needs, built from config.
type app struct {
	cfg      config.Config
	warnings []string
	logger   *slog.Logger

	store    *storage.SQLiteStore
	writer   *storage.Writer
	provider *observe.Provider
	metrics  *observe.Metrics

	synth speech.Synthesizer
	stt   transcribe.Transcriber
	orch  *pipeline.Orchestrator
}

func setup(ctx context.Context) (*app, error) {
	cfg, warnings, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	a := &app{cfg: cfg, warnings: warnings, logger: logger}

	if cfg.MetricsEnabled {
		a.provider, err = observe.InitProvider(ctx, observe.ProviderConfig{Registry: prometheus.NewRegistry()})
		if err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		a.metrics = a.provider.Metrics
	}

	a.store, err = storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}
	a.writer = storage.NewWriter(cfg.TranscriptDir)

	generator, err := buildGenerator(cfg)
	if err != nil {
		log.Printf("warning: reply generation disabled: %v", err)
	}
	a.synth = buildSynthesizer(cfg)
	a.stt = buildTranscriber(cfg)

	a.orch = pipeline.New(pipeline.Config{
		HistorySize: cfg.HistorySize,
		Classifier:  safety.NewClassifier(safety.WithLogger(logger)),
		Generator:   generator,
		Synthesizer: a.synth,
		Archive:     a.store,
		Transcript:  a.writer,
		Metrics:     a.metrics,
		Logger:      logger,
	})

	return a, nil
}

func (a *app) captureConfig() session.CaptureConfig {
	return session.CaptureConfig{
		DebounceDelay: a.cfg.ParsedDebounceDelay(),
		RestartDelay:  a.cfg.ParsedRestartDelay(),
		MinChars:      a.cfg.MinUtteranceChars,
		Logger:        a.logger,
	}
}

// recognizer returns nil when live transcription is not configured.
func (a *app) recognizer(sampleRate int) session.Recognizer {
	if a.cfg.DeepgramAPIKey == "" {
		return nil
	}
	return session.NewDeepgramRecognizer(session.DeepgramOptions{
		APIKey:     a.cfg.DeepgramAPIKey,
		Model:      a.cfg.STTModel,
		Language:   a.cfg.STTLanguage,
		SampleRate: sampleRate,
	})
}

func (a *app) Close(ctx context.Context) {
	if err := a.orch.Close(ctx); err != nil {
		log.Printf("warning: close conversation failed: %v", err)
	}
	if a.provider != nil {
		if err := a.provider.Shutdown(ctx); err != nil {
			log.Printf("warning: metrics shutdown failed: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		log.Printf("warning: close storage failed: %v", err)
	}
}

// buildGenerator returns a nil client and no error when the provider's key is
// missing; the orchestrator then answers with fallback text.
func buildGenerator(cfg config.Config) (llm.Client, error) {
	provider, model, err := llm.ParseModel(cfg.LLMModel)
	if err != nil {
		return nil, err
	}
	key := cfg.APIKeyFor(provider)
	if key == "" {
		return nil, nil
	}
	return llm.NewClient(provider, key, model,
		llm.WithMaxTokens(cfg.LLMMaxTokens),
		llm.WithTemperature(float32(cfg.LLMTemperature)),
	)
}

// buildSynthesizer returns nil when the configured provider has no key.
func buildSynthesizer(cfg config.Config) speech.Synthesizer {
	voices := speech.VoiceSet{Primary: cfg.Voices.Primary, Secondary: cfg.Voices.Secondary}
	switch cfg.TTSProvider {
	case config.TTSElevenLabs:
		if cfg.ElevenLabsAPIKey == "" {
			return nil
		}
		return speech.NewElevenLabs(cfg.ElevenLabsAPIKey, voices,
			speech.WithElevenLabsModel(cfg.TTSModel),
			speech.WithMarkup(cfg.ExpressiveMarkup),
		)
	case config.TTSOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil
		}
		return speech.NewOpenAI(cfg.OpenAIAPIKey, cfg.TTSModel, voices, "")
	default:
		return nil
	}
}

// buildTranscriber returns nil when the configured provider has no key.
func buildTranscriber(cfg config.Config) transcribe.Transcriber {
	switch cfg.STTProvider {
	case config.STTDeepgram:
		if cfg.DeepgramAPIKey == "" {
			return nil
		}
		return transcribe.NewDeepgram(cfg.DeepgramAPIKey, cfg.STTModel, cfg.STTLanguage)
	case config.STTAssemblyAI:
		if cfg.AssemblyAIAPIKey == "" {
			return nil
		}
		return transcribe.NewPoller(cfg.AssemblyAIAPIKey,
			transcribe.WithSchedule(cfg.ParsedPollDelays(), cfg.PollMaxAttempts),
		)
	default:
		return nil
	}
}
