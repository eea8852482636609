package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewCommandRenderer_ValidatesTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantErr  bool
	}{
		{"valid", "avatar-render --image {image} --audio {audio} --out {out}", false},
		{"missing audio placeholder", "avatar-render {image} {out}", true},
		{"missing out placeholder", "avatar-render {image} {audio}", true},
		{"empty", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommandRenderer(tt.template, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCommandRenderer(%q) error = %v, wantErr %v", tt.template, err, tt.wantErr)
			}
		})
	}
}

func TestCommandRenderer_SubstitutesPlaceholdersAndChecksOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "clip.mp4")

	// "cp {audio} {out}" stands in for a real pipeline: it consumes the audio
	// path and produces the output file.
	audio := filepath.Join(dir, "speech.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewCommandRenderer("cp {audio} {out}", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCommandRenderer failed: %v", err)
	}
	if err := r.Render(context.Background(), "portrait.png", audio, out); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("Expected output file to exist: %v", err)
	}
}

func TestCommandRenderer_FailsWhenNoOutputProduced(t *testing.T) {
	dir := t.TempDir()
	r, err := NewCommandRenderer("true {audio} {out}", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCommandRenderer failed: %v", err)
	}
	err = r.Render(context.Background(), "img.png", "a.wav", filepath.Join(dir, "missing.mp4"))
	if err == nil {
		t.Error("Expected error when pipeline produces no output file")
	}
}

type stubRenderer struct {
	err    error
	called bool
}

func (s *stubRenderer) Render(ctx context.Context, image, audio, out string) error {
	s.called = true
	return s.err
}

func TestFallbackRenderer_UsesPrimaryWhenHealthy(t *testing.T) {
	primary := &stubRenderer{}
	secondary := &stubRenderer{}
	r := NewFallbackRenderer(primary, secondary, zerolog.Nop())

	if err := r.Render(context.Background(), "i", "a", "o"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !primary.called || secondary.called {
		t.Error("Expected only the primary renderer to run")
	}
}

func TestFallbackRenderer_FallsBackOnPrimaryFailure(t *testing.T) {
	primary := &stubRenderer{err: errors.New("model crashed")}
	secondary := &stubRenderer{}
	r := NewFallbackRenderer(primary, secondary, zerolog.Nop())

	if err := r.Render(context.Background(), "i", "a", "o"); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !secondary.called {
		t.Error("Expected the fallback renderer to run")
	}
}

func TestFallbackRenderer_ReportsBothFailures(t *testing.T) {
	primary := &stubRenderer{err: errors.New("model crashed")}
	secondary := &stubRenderer{err: errors.New("ffmpeg missing")}
	r := NewFallbackRenderer(primary, secondary, zerolog.Nop())

	err := r.Render(context.Background(), "i", "a", "o")
	if err == nil {
		t.Fatal("Expected error when both renderers fail")
	}
}
