package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/liveavatar/avatar-gateway/internal/config"
)

// SessionState tracks the lifecycle of a streaming synthesis session.
// Terminal states are final; a session is never reused across utterances.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateActive
	StateCompleted
	StateFailed
	StateClosed
)

// String returns the state name for logging.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrSessionClosed is returned by Next after the session has been torn down.
var ErrSessionClosed = errors.New("tts: session closed")

// RemoteError carries the diagnostic payload of an error control message
// reported by the synthesis endpoint. It fails the current turn only.
type RemoteError struct {
	Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("tts: remote synthesis error: %s", e.Detail)
}

// SessionConfig is the immutable per-session configuration.
//
// IncomingSampleRate is the rate the remote side is asked to emit;
// TargetSampleRate is what the consumer receives. Conversion happens locally,
// never on the remote side.
type SessionConfig struct {
	URL     string
	APIKey  string
	VoiceID string

	IncomingSampleRate int
	TargetSampleRate   int
	Channels           int
	FrameDurationMS    int
	KeepaliveSec       int
	WireEncoding       string
}

// SessionConfigFrom derives a session configuration from the gateway config.
func SessionConfigFrom(cfg *config.Config) SessionConfig {
	return SessionConfig{
		URL:                cfg.TTSWSURL,
		APIKey:             cfg.TTSAPIKey,
		VoiceID:            cfg.TTSVoiceID,
		IncomingSampleRate: cfg.IncomingSampleRate,
		TargetSampleRate:   cfg.TargetSampleRate,
		Channels:           cfg.Channels,
		FrameDurationMS:    cfg.FrameDurationMS,
		KeepaliveSec:       cfg.KeepaliveSec,
		WireEncoding:       cfg.WireEncoding,
	}
}

// Validate rejects configurations the audio pipeline cannot run on. This is
// checked at session construction so numeric errors never surface mid-stream.
func (c SessionConfig) Validate() error {
	if c.IncomingSampleRate <= 0 || c.TargetSampleRate <= 0 {
		return fmt.Errorf("tts: non-positive sample rate (%d -> %d)", c.IncomingSampleRate, c.TargetSampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("tts: non-positive channel count %d", c.Channels)
	}
	if c.FrameDurationMS <= 0 {
		return fmt.Errorf("tts: non-positive frame duration %d ms", c.FrameDurationMS)
	}
	if c.KeepaliveSec <= 0 {
		return fmt.Errorf("tts: non-positive keepalive interval %d s", c.KeepaliveSec)
	}
	return nil
}

// FrameBytes returns the raw (pre-resample) frame size in bytes.
func (c SessionConfig) FrameBytes() int {
	return c.IncomingSampleRate * c.Channels * 2 * c.FrameDurationMS / 1000
}

// FrameSource is a lazy, single-pass, forward-only sequence of resampled
// audio frames. Next returns io.EOF when synthesis completed normally and the
// terminal error when the session failed; consuming it drives the receive
// loop. Close is safe to call at any point, including mid-sequence.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Synthesizer opens one streaming synthesis session per utterance.
type Synthesizer interface {
	OpenStream(ctx context.Context, text string) (FrameSource, error)
}

// startMessage is the synthesis-start request sent once on entering ACTIVE.
type startMessage struct {
	Type       string `json:"type"`
	VoiceID    string `json:"voice_id,omitempty"`
	Text       string `json:"text"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
	ChunkMS    int    `json:"chunk_ms"`
}

// controlMessage is the inbound textual control envelope. Audio carries the
// optional structured-payload form: some endpoints wrap binary audio in a
// JSON object with a base64 audio field instead of a binary frame.
type controlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Audio   string `json:"audio,omitempty"`
}

// stopMessage is the best-effort teardown notification.
type stopMessage struct {
	Type string `json:"type"`
}
