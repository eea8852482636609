package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/liveavatar/avatar-gateway/internal/config"
	"github.com/liveavatar/avatar-gateway/internal/llm"
	"github.com/liveavatar/avatar-gateway/internal/observability"
	"github.com/liveavatar/avatar-gateway/internal/orchestrator"
	"github.com/liveavatar/avatar-gateway/internal/render"
	"github.com/liveavatar/avatar-gateway/internal/tts"
)

func main() {
	var (
		mode  = flag.String("mode", "live", "Run mode: live (interactive loop) or batch (single utterance)")
		image = flag.String("image", "assets/avatar.png", "Portrait image for the rendered avatar")
		text  = flag.String("text", "", "Text to synthesize in batch mode")
		out   = flag.String("out", "out/output.mp4", "Output video path in batch mode")
	)
	flag.Parse()

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
		Str("mode", *mode).
		Int("incoming_rate", cfg.IncomingSampleRate).
		Int("target_rate", cfg.TargetSampleRate).
		Int("frame_ms", cfg.FrameDurationMS).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Avatar Gateway starting")

	renderer := buildRenderer(cfg, logger)

	// Cancel outstanding work on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "batch":
		if *text == "" {
			logger.Fatal().Msg("Batch mode requires -text")
		}
		batch := tts.NewBatchClient(cfg.TTSHTTPURL, cfg.TTSAPIKey, cfg.TTSVoiceID, cfg.TargetSampleRate, logger)
		if err := orchestrator.RunBatch(ctx, cfg, batch, renderer, *image, *text, *out, logger); err != nil {
			logger.Fatal().Err(err).Msg("Batch run failed")
		}

	case "live":
		if cfg.MetricsEnabled {
			server := observability.MetricsServer(cfg.MetricsPort)
			go func() {
				logger.Info().Str("port", cfg.MetricsPort).Msg("Prometheus metrics enabled at /metrics")
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error().Err(err).Msg("Metrics server failed")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
		}

		synth, err := tts.NewStreamSynthesizer(tts.SessionConfigFrom(cfg), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid synthesis configuration")
		}

		loop := orchestrator.New(cfg, synth, buildReplies(cfg, logger), renderer, *image, logger)
		if err := loop.Run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
			logger.Fatal().Err(err).Msg("Live loop failed")
		}
		logger.Info().Msg("Live loop ended")

	default:
		logger.Fatal().Str("mode", *mode).Msg("Unknown mode")
	}
}

// buildRenderer assembles the render chain: the configured external pipeline
// with an ffmpeg still-image fallback, or the fallback alone when no pipeline
// is configured.
func buildRenderer(cfg *config.Config, logger zerolog.Logger) render.Renderer {
	fallback := render.NewFFmpegRenderer(cfg.FFmpegPath, logger)
	if cfg.RenderCmdTemplate == "" {
		return fallback
	}
	primary, err := render.NewCommandRenderer(cfg.RenderCmdTemplate, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid render command template, using ffmpeg fallback")
		return fallback
	}
	return render.NewFallbackRenderer(primary, fallback, logger)
}

// buildReplies wires reply generation, or nil for verbatim echo.
func buildReplies(cfg *config.Config, logger zerolog.Logger) llm.ReplyGenerator {
	if !cfg.UseLLM || cfg.OpenAIAPIKey == "" {
		logger.Info().Msg("Reply generation disabled, synthesizing input verbatim")
		return nil
	}
	gen, err := llm.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.Persona, cfg.OpenAITemperature)
	if err != nil {
		logger.Warn().Err(err).Msg("Reply generation unavailable, synthesizing input verbatim")
		return nil
	}
	return gen
}
