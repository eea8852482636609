// Package render produces talking-head video clips from a portrait image and
// a synthesized audio track.
package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const renderTimeout = 10 * time.Minute

// Renderer turns an image and a WAV file into a video at outPath.
type Renderer interface {
	Render(ctx context.Context, imagePath, audioPath, outPath string) error
}

// CommandRenderer shells out to an external lip-sync pipeline. The command
// template supports {image}, {audio} and {out} placeholders and is split on
// whitespace, so paths containing spaces must be avoided.
type CommandRenderer struct {
	template string
	logger   zerolog.Logger
}

// NewCommandRenderer creates a renderer from a command template.
func NewCommandRenderer(template string, logger zerolog.Logger) (*CommandRenderer, error) {
	if strings.TrimSpace(template) == "" {
		return nil, fmt.Errorf("render: empty command template")
	}
	if !strings.Contains(template, "{audio}") || !strings.Contains(template, "{out}") {
		return nil, fmt.Errorf("render: command template must reference {audio} and {out}")
	}
	return &CommandRenderer{template: template, logger: logger}, nil
}

// Render runs the configured pipeline and verifies it produced outPath.
func (r *CommandRenderer) Render(ctx context.Context, imagePath, audioPath, outPath string) error {
	expanded := strings.NewReplacer(
		"{image}", imagePath,
		"{audio}", audioPath,
		"{out}", outPath,
	).Replace(r.template)

	args := strings.Fields(expanded)
	if len(args) == 0 {
		return fmt.Errorf("render: command template expanded to nothing")
	}

	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	r.logger.Debug().Str("command", args[0]).Msg("Running render pipeline")
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("render: pipeline failed: %w: %s", err, tail(out, 512))
	}

	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("render: pipeline produced no output at %s: %w", outPath, err)
	}
	return nil
}

// FFmpegRenderer is the fallback: a static portrait looped over the audio
// track. It exercises the same output contract without a lip-sync model.
type FFmpegRenderer struct {
	ffmpegPath string
	logger     zerolog.Logger
}

// NewFFmpegRenderer creates the still-image fallback renderer. ffmpegPath may
// be a bare binary name resolved via PATH.
func NewFFmpegRenderer(ffmpegPath string, logger zerolog.Logger) *FFmpegRenderer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegRenderer{ffmpegPath: ffmpegPath, logger: logger}
}

// Render encodes a video of the still image lasting exactly as long as the
// audio track.
func (r *FFmpegRenderer) Render(ctx context.Context, imagePath, audioPath, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-loop", "1",
		"-i", imagePath,
		"-i", audioPath,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-c:a", "aac",
		"-pix_fmt", "yuv420p",
		"-shortest",
		outPath,
	}

	r.logger.Debug().Str("out", outPath).Msg("Rendering still-image video")
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("render: ffmpeg failed: %w: %s", err, tail(out, 512))
	}
	return nil
}

// FallbackRenderer tries the primary pipeline and falls back to the secondary
// when the primary fails. A turn only fails when both do.
type FallbackRenderer struct {
	primary   Renderer
	secondary Renderer
	logger    zerolog.Logger
}

// NewFallbackRenderer chains primary and secondary renderers.
func NewFallbackRenderer(primary, secondary Renderer, logger zerolog.Logger) *FallbackRenderer {
	return &FallbackRenderer{primary: primary, secondary: secondary, logger: logger}
}

// Render implements Renderer.
func (r *FallbackRenderer) Render(ctx context.Context, imagePath, audioPath, outPath string) error {
	err := r.primary.Render(ctx, imagePath, audioPath, outPath)
	if err == nil {
		return nil
	}
	r.logger.Warn().Err(err).Msg("Primary renderer failed, using fallback")
	if fbErr := r.secondary.Render(ctx, imagePath, audioPath, outPath); fbErr != nil {
		return fmt.Errorf("render: fallback also failed: %w (primary: %v)", fbErr, err)
	}
	return nil
}

// tail returns the last n bytes of process output for error messages.
func tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
