package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/liveavatar/avatar-gateway/internal/config"
	"github.com/liveavatar/avatar-gateway/internal/tts"
)

type fakeFrameSource struct {
	frames [][]byte
	err    error // returned after frames are exhausted; nil means io.EOF
	closed bool
}

func (f *fakeFrameSource) Next(ctx context.Context) ([]byte, error) {
	if len(f.frames) == 0 {
		if f.err != nil {
			return nil, f.err
		}
		return nil, io.EOF
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, nil
}

func (f *fakeFrameSource) Close() error {
	f.closed = true
	return nil
}

type fakeSynth struct {
	texts   []string
	sources []*fakeFrameSource
	openErr []error // per-call open errors, nil entries succeed
}

func (f *fakeSynth) OpenStream(ctx context.Context, text string) (tts.FrameSource, error) {
	call := len(f.texts)
	f.texts = append(f.texts, text)
	if call < len(f.openErr) && f.openErr[call] != nil {
		return nil, f.openErr[call]
	}
	if call < len(f.sources) {
		return f.sources[call], nil
	}
	return &fakeFrameSource{frames: [][]byte{{1, 2, 3, 4}}}, nil
}

type fakeRenderer struct {
	calls []string // video output paths
	err   error
}

func (f *fakeRenderer) Render(ctx context.Context, image, audio, out string) error {
	f.calls = append(f.calls, out)
	return f.err
}

type fakeReplies struct {
	reply string
	err   error
	calls int
}

func (f *fakeReplies) Reply(ctx context.Context, userText string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TargetSampleRate:       16000,
		OutputDir:              t.TempDir(),
		LLMBreakerMaxFailures:  3,
		LLMBreakerResetTimeout: 30,
	}
}

func TestRun_RendersOneClipPerTurn(t *testing.T) {
	cfg := testConfig(t)
	synth := &fakeSynth{
		sources: []*fakeFrameSource{
			{frames: [][]byte{{1, 2}, {3, 4}}},
			{frames: [][]byte{{5, 6}}},
		},
	}
	renderer := &fakeRenderer{}
	loop := New(cfg, synth, nil, renderer, "face.png", zerolog.Nop())

	err := loop.Run(context.Background(), strings.NewReader("hello\nworld\n\nignored\n"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(synth.texts) != 2 {
		t.Fatalf("Expected 2 synthesis sessions, got %d", len(synth.texts))
	}
	if synth.texts[0] != "hello" || synth.texts[1] != "world" {
		t.Errorf("Unexpected synthesized texts: %v", synth.texts)
	}
	want := []string{
		filepath.Join(cfg.OutputDir, "live_1.mp4"),
		filepath.Join(cfg.OutputDir, "live_2.mp4"),
	}
	if len(renderer.calls) != 2 || renderer.calls[0] != want[0] || renderer.calls[1] != want[1] {
		t.Errorf("Unexpected render calls: %v", renderer.calls)
	}

	// The accumulated waveform lands next to the clip as a WAV file.
	wav, err := os.ReadFile(filepath.Join(cfg.OutputDir, "live_1.wav"))
	if err != nil {
		t.Fatalf("Expected waveform file: %v", err)
	}
	if len(wav) != 44+4 {
		t.Errorf("Expected 4 PCM bytes plus header, got %d total", len(wav))
	}
}

func TestRun_EmptyFirstLineOpensNoSession(t *testing.T) {
	cfg := testConfig(t)
	synth := &fakeSynth{}
	renderer := &fakeRenderer{}
	loop := New(cfg, synth, nil, renderer, "face.png", zerolog.Nop())

	if err := loop.Run(context.Background(), strings.NewReader("\nhello\n")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(synth.texts) != 0 {
		t.Errorf("Expected no sessions after immediate empty line, got %d", len(synth.texts))
	}
}

func TestRun_ZeroAudioSkipsRender(t *testing.T) {
	cfg := testConfig(t)
	synth := &fakeSynth{sources: []*fakeFrameSource{{}}}
	renderer := &fakeRenderer{}
	loop := New(cfg, synth, nil, renderer, "face.png", zerolog.Nop())

	if err := loop.Run(context.Background(), strings.NewReader("hello\n")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(renderer.calls) != 0 {
		t.Errorf("Expected no render for empty waveform, got %v", renderer.calls)
	}
}

func TestRun_TurnFailureDoesNotKillLoop(t *testing.T) {
	cfg := testConfig(t)
	synth := &fakeSynth{
		openErr: []error{errors.New("endpoint down"), nil},
		sources: []*fakeFrameSource{nil, {frames: [][]byte{{9, 9}}}},
	}
	renderer := &fakeRenderer{}
	loop := New(cfg, synth, nil, renderer, "face.png", zerolog.Nop())

	if err := loop.Run(context.Background(), strings.NewReader("first\nsecond\n")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(synth.texts) != 2 {
		t.Fatalf("Expected the loop to survive the failed turn, got %d sessions", len(synth.texts))
	}
	// Sequence numbers keep advancing across failed turns.
	want := filepath.Join(cfg.OutputDir, "live_2.mp4")
	if len(renderer.calls) != 1 || renderer.calls[0] != want {
		t.Errorf("Expected single render at %s, got %v", want, renderer.calls)
	}
}

func TestRun_MidStreamFailureClosesSession(t *testing.T) {
	cfg := testConfig(t)
	src := &fakeFrameSource{frames: [][]byte{{1, 2}}, err: errors.New("remote error")}
	synth := &fakeSynth{sources: []*fakeFrameSource{src}}
	renderer := &fakeRenderer{}
	loop := New(cfg, synth, nil, renderer, "face.png", zerolog.Nop())

	if err := loop.Run(context.Background(), strings.NewReader("hello\n")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !src.closed {
		t.Error("Expected the session to be closed after a mid-stream failure")
	}
	if len(renderer.calls) != 0 {
		t.Error("Expected no render after a failed synthesis")
	}
}

func TestRun_UsesGeneratedReply(t *testing.T) {
	cfg := testConfig(t)
	synth := &fakeSynth{}
	replies := &fakeReplies{reply: "Nice to meet you!"}
	loop := New(cfg, synth, replies, &fakeRenderer{}, "face.png", zerolog.Nop())

	if err := loop.Run(context.Background(), strings.NewReader("hi\n")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if replies.calls != 1 {
		t.Errorf("Expected one reply call, got %d", replies.calls)
	}
	if len(synth.texts) != 1 || synth.texts[0] != "Nice to meet you!" {
		t.Errorf("Expected generated reply to be synthesized, got %v", synth.texts)
	}
}

func TestRun_DegradesToVerbatimWhenRepliesFail(t *testing.T) {
	cfg := testConfig(t)
	synth := &fakeSynth{}
	replies := &fakeReplies{err: errors.New("model down")}
	loop := New(cfg, synth, replies, &fakeRenderer{}, "face.png", zerolog.Nop())

	if err := loop.Run(context.Background(), strings.NewReader("echo me\n")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(synth.texts) != 1 || synth.texts[0] != "echo me" {
		t.Errorf("Expected verbatim degradation, got %v", synth.texts)
	}
}

func TestRun_CircuitOpenSkipsReplyCalls(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLMBreakerMaxFailures = 2
	synth := &fakeSynth{}
	replies := &fakeReplies{err: errors.New("model down")}
	loop := New(cfg, synth, replies, &fakeRenderer{}, "face.png", zerolog.Nop())

	input := strings.NewReader("one\ntwo\nthree\nfour\n")
	if err := loop.Run(context.Background(), input); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The breaker opens after two consecutive failures; later turns skip the
	// generator entirely but still synthesize the user's text.
	if replies.calls != 2 {
		t.Errorf("Expected 2 reply attempts before the breaker opened, got %d", replies.calls)
	}
	if len(synth.texts) != 4 {
		t.Errorf("Expected all 4 turns to synthesize, got %d", len(synth.texts))
	}
}
