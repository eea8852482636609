// Package orchestrator runs the interactive avatar loop: one synthesized and
// rendered video clip per typed line.
package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/liveavatar/avatar-gateway/internal/audio"
	"github.com/liveavatar/avatar-gateway/internal/config"
	"github.com/liveavatar/avatar-gateway/internal/llm"
	"github.com/liveavatar/avatar-gateway/internal/observability"
	"github.com/liveavatar/avatar-gateway/internal/render"
	"github.com/liveavatar/avatar-gateway/internal/resilience"
	"github.com/liveavatar/avatar-gateway/internal/tts"
)

// Loop drives the live conversation: read a line, generate a reply, stream
// synthesis, render a clip. A turn failure is logged and the loop keeps going;
// only input exhaustion or an empty line ends it.
type Loop struct {
	cfg       *config.Config
	synth     tts.Synthesizer
	replies   llm.ReplyGenerator // nil disables reply generation
	renderer  render.Renderer
	breaker   *resilience.CircuitBreaker
	imagePath string
	logger    zerolog.Logger
}

// New assembles a live loop. replies may be nil, in which case the user's
// text is synthesized verbatim.
func New(cfg *config.Config, synth tts.Synthesizer, replies llm.ReplyGenerator, renderer render.Renderer, imagePath string, logger zerolog.Logger) *Loop {
	return &Loop{
		cfg:      cfg,
		synth:    synth,
		replies:  replies,
		renderer: renderer,
		breaker: resilience.NewCircuitBreaker("llm",
			cfg.LLMBreakerMaxFailures,
			time.Duration(cfg.LLMBreakerResetTimeout)*time.Second),
		imagePath: imagePath,
		logger:    logger,
	}
}

// Run reads lines from input until EOF or an empty line and processes each as
// one turn. It returns only on input exhaustion or a scanner error; per-turn
// failures never propagate.
func (l *Loop) Run(ctx context.Context, input io.Reader) error {
	if err := os.MkdirAll(l.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: create output dir: %w", err)
	}

	scanner := bufio.NewScanner(input)
	seq := 0
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "" {
			l.logger.Info().Msg("Empty line, ending session")
			break
		}

		seq++
		if err := l.runTurn(ctx, seq, line); err != nil {
			logger := observability.TurnLogger(seq)
			logger.Error().Err(err).Msg("Turn failed")
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// runTurn handles one line end to end.
func (l *Loop) runTurn(ctx context.Context, seq int, userText string) error {
	logger := observability.TurnLogger(seq)
	metrics := observability.NewTurnMetrics()
	success := false
	defer func() { metrics.RecordTurnEnd(success) }()

	replyText := l.replyFor(ctx, userText, logger)
	logger.Info().Int("chars", len(replyText)).Msg("Synthesizing reply")

	waveform, err := l.synthesize(ctx, replyText, metrics)
	if err != nil {
		metrics.RecordError("synthesis", "tts")
		return err
	}

	if len(waveform) == 0 {
		// Completed session with no audio: nothing to render, not a failure.
		logger.Warn().Msg("Synthesis produced no audio, skipping render")
		success = true
		return nil
	}

	audioPath := filepath.Join(l.cfg.OutputDir, fmt.Sprintf("live_%d.wav", seq))
	videoPath := filepath.Join(l.cfg.OutputDir, fmt.Sprintf("live_%d.mp4", seq))

	wav, err := audio.EncodeWAV(waveform, l.cfg.TargetSampleRate)
	if err != nil {
		return fmt.Errorf("encode waveform: %w", err)
	}
	if err := os.WriteFile(audioPath, wav, 0o644); err != nil {
		return fmt.Errorf("write waveform: %w", err)
	}

	metrics.RecordRenderStart()
	if err := l.renderer.Render(ctx, l.imagePath, audioPath, videoPath); err != nil {
		metrics.RecordError("render", "render")
		return err
	}
	metrics.RecordRenderEnd()

	logger.Info().
		Str("video", videoPath).
		Int("audio_bytes", len(waveform)).
		Msg("Turn complete")
	success = true
	return nil
}

// synthesize opens one streaming session and accumulates the full resampled
// waveform. The session is closed before returning regardless of outcome.
func (l *Loop) synthesize(ctx context.Context, text string, metrics *observability.TurnMetrics) ([]byte, error) {
	metrics.RecordSynthesisStart()

	stream, err := l.synth.OpenStream(ctx, text)
	if err != nil {
		metrics.RecordSynthesisEnd(false)
		return nil, fmt.Errorf("open synthesis stream: %w", err)
	}
	defer stream.Close()

	var waveform bytes.Buffer
	for {
		frame, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.RecordSynthesisEnd(false)
			return nil, fmt.Errorf("synthesis stream: %w", err)
		}
		waveform.Write(frame)
	}

	metrics.RecordSynthesisEnd(true)
	return waveform.Bytes(), nil
}

// replyFor produces the text to synthesize. Reply generation is protected by
// the circuit breaker; any failure (or an open breaker) degrades to the
// user's text verbatim so the avatar always answers.
func (l *Loop) replyFor(ctx context.Context, userText string, logger zerolog.Logger) string {
	if l.replies == nil {
		return userText
	}

	var reply string
	err := l.breaker.Call(func() error {
		r, callErr := l.replies.Reply(ctx, userText)
		if callErr != nil {
			return callErr
		}
		reply = r
		return nil
	})
	if err != nil {
		observability.RecordLLMRequest(false)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			logger.Warn().Msg("Reply generation degraded (circuit open), echoing input")
		} else {
			logger.Warn().Err(err).Msg("Reply generation failed, echoing input")
		}
		return userText
	}
	observability.RecordLLMRequest(true)
	return reply
}

// RunBatch synthesizes a single utterance through the batch endpoint and
// renders one clip. It is the non-interactive demo path.
func RunBatch(ctx context.Context, cfg *config.Config, batch *tts.BatchClient, renderer render.Renderer, imagePath, text, outPath string, logger zerolog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("orchestrator: create output dir: %w", err)
	}

	pcm := batch.Synthesize(ctx, text)
	wav, err := audio.EncodeWAV(pcm, cfg.TargetSampleRate)
	if err != nil {
		return fmt.Errorf("encode waveform: %w", err)
	}

	audioPath := outPath + ".wav"
	if err := os.WriteFile(audioPath, wav, 0o644); err != nil {
		return fmt.Errorf("write waveform: %w", err)
	}

	if err := renderer.Render(ctx, imagePath, audioPath, outPath); err != nil {
		return err
	}
	logger.Info().Str("video", outPath).Msg("Batch render complete")
	return nil
}

