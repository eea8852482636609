package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/liveavatar/avatar-gateway/internal/audio"
	"github.com/liveavatar/avatar-gateway/internal/observability"
	"github.com/liveavatar/avatar-gateway/internal/resilience"
)

const (
	// maxMessageSize bounds inbound frames; oversized messages fail the read
	// rather than buffering without limit.
	maxMessageSize = 1 << 22 // 4 MiB

	// keepaliveGrace is added to the ping interval for the read timeout so a
	// single missed heartbeat does not fail the session.
	keepaliveGrace = 5 * time.Second

	handshakeTimeout = 15 * time.Second
)

// StreamSession owns one WebSocket connection to the synthesis endpoint for
// one utterance. The accumulation buffer and pending frame queue are mutated
// only by the goroutine draining Next; the session is not safe for concurrent
// use and must not be reused.
type StreamSession struct {
	cfg        SessionConfig
	conn       *websocket.Conn
	packetizer *audio.FramePacketizer
	logger     zerolog.Logger

	state   SessionState
	err     error    // terminal failure, set once
	pending [][]byte // resampled frames awaiting delivery

	pingStop  chan struct{}
	closeOnce sync.Once
}

// NewStreamSession validates cfg and returns an idle session. Invalid audio
// parameters are rejected here, never mid-stream.
func NewStreamSession(cfg SessionConfig, logger zerolog.Logger) (*StreamSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StreamSession{
		cfg:        cfg,
		packetizer: audio.NewFramePacketizer(cfg.FrameBytes()),
		logger:     logger,
		state:      StateIdle,
		pingStop:   make(chan struct{}),
	}, nil
}

// Start dials the endpoint, installs the keepalive heartbeat, and sends the
// synthesis-start request for text. On return the session is ACTIVE and
// Next may be called; on error the session is FAILED.
func (s *StreamSession) Start(ctx context.Context, text string) error {
	if s.state != StateIdle {
		return fmt.Errorf("tts: session already started (state %s)", s.state)
	}
	s.state = StateConnecting

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{"Authorization": []string{"Bearer " + s.cfg.APIKey}}

	var conn *websocket.Conn
	err := resilience.Retry(ctx, func() error {
		c, resp, dialErr := dialer.DialContext(ctx, s.cfg.URL, header)
		if dialErr != nil {
			if resp != nil {
				return fmt.Errorf("dial %s (status %d): %w", s.cfg.URL, resp.StatusCode, dialErr)
			}
			return fmt.Errorf("dial %s: %w", s.cfg.URL, dialErr)
		}
		conn = c
		return nil
	}, nil)
	if err != nil {
		return s.fail(fmt.Errorf("tts: connect: %w", err))
	}
	s.conn = conn

	conn.SetReadLimit(maxMessageSize)
	keepalive := time.Duration(s.cfg.KeepaliveSec) * time.Second
	readTimeout := keepalive + keepaliveGrace
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go s.keepaliveLoop(keepalive)

	s.state = StateActive
	start := startMessage{
		Type:       "start",
		VoiceID:    s.cfg.VoiceID,
		Text:       text,
		SampleRate: s.cfg.IncomingSampleRate,
		Channels:   s.cfg.Channels,
		Format:     s.cfg.WireEncoding,
		ChunkMS:    s.cfg.FrameDurationMS,
	}
	if err := conn.WriteJSON(start); err != nil {
		return s.fail(fmt.Errorf("tts: send start: %w", err))
	}

	s.logger.Debug().
		Str("voice_id", s.cfg.VoiceID).
		Int("incoming_rate", s.cfg.IncomingSampleRate).
		Int("target_rate", s.cfg.TargetSampleRate).
		Int("frame_bytes", s.cfg.FrameBytes()).
		Msg("Synthesis session started")
	return nil
}

// keepaliveLoop sends WebSocket pings at the configured interval until the
// session closes. WriteControl is safe alongside the consumer's writes.
func (s *StreamSession) keepaliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-s.pingStop:
			return
		}
	}
}

// Next returns the next resampled output frame in strict arrival order.
// It returns io.EOF once the remote side signals completion and all frames
// (including the flushed tail) have been delivered, or the terminal error if
// the session failed. Calling Next drives the receive loop.
func (s *StreamSession) Next(ctx context.Context) ([]byte, error) {
	for {
		if len(s.pending) > 0 {
			frame := s.pending[0]
			s.pending = s.pending[1:]
			return frame, nil
		}

		switch s.state {
		case StateCompleted:
			return nil, io.EOF
		case StateFailed:
			return nil, s.err
		case StateClosed:
			return nil, ErrSessionClosed
		case StateActive:
			// fall through to the read below
		default:
			return nil, fmt.Errorf("tts: session not started (state %s)", s.state)
		}

		if err := ctx.Err(); err != nil {
			return nil, s.fail(err)
		}

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, s.fail(fmt.Errorf("tts: transport read: %w", err))
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.ingest(data)
		case websocket.TextMessage:
			s.handleControl(data)
		}
	}
}

// ingest feeds raw wire bytes through the packetizer and resamples every
// complete frame to the target rate, preserving arrival order.
func (s *StreamSession) ingest(data []byte) {
	observability.RecordAudioBytes("wire", len(data))
	for _, raw := range s.packetizer.Feed(data) {
		out := audio.ResampleBytes(raw, s.cfg.IncomingSampleRate, s.cfg.TargetSampleRate)
		observability.RecordFrame()
		observability.RecordAudioBytes("out", len(out))
		s.pending = append(s.pending, out)
	}
}

// handleControl decodes a textual control message. Unparseable or unknown
// messages are skipped so future message types stay non-fatal.
func (s *StreamSession) handleControl(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug().Err(err).Msg("Skipping unparseable control message")
		return
	}

	switch msg.Type {
	case "end":
		// Flush the partial tail so trailing audio shorter than one frame is
		// not dropped at the completion boundary.
		if tail := s.packetizer.Flush(); len(tail) >= 2 {
			out := audio.ResampleBytes(tail, s.cfg.IncomingSampleRate, s.cfg.TargetSampleRate)
			observability.RecordAudioBytes("out", len(out))
			s.pending = append(s.pending, out)
		}
		s.state = StateCompleted
		s.logger.Debug().Msg("Synthesis completed")

	case "error":
		detail := msg.Message
		if detail == "" {
			detail = string(data)
		}
		s.fail(&RemoteError{Detail: detail})

	default:
		// Structured audio fallback: a JSON message whose audio field holds
		// base64 PCM is treated exactly like a binary payload.
		if msg.Audio != "" {
			decoded, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.logger.Debug().Err(err).Msg("Skipping control message with invalid audio payload")
				return
			}
			s.ingest(decoded)
			return
		}
		s.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown control message")
	}
}

// fail records the terminal error once and returns it.
func (s *StreamSession) fail(err error) error {
	if s.state != StateFailed {
		s.state = StateFailed
		s.err = err
	}
	return s.err
}

// Close tears the session down: a best-effort stop notification, then the
// transport. Send failures are swallowed so cleanup never masks the session
// outcome. Close is idempotent and safe after early abandonment.
func (s *StreamSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.pingStop)
		if s.conn != nil {
			_ = s.conn.WriteJSON(stopMessage{Type: "stop"})
			_ = s.conn.Close()
		}
		if s.state != StateCompleted && s.state != StateFailed {
			s.state = StateClosed
		}
		s.logger.Debug().Str("state", s.state.String()).Msg("Synthesis session closed")
	})
	return nil
}

// State returns the session's current lifecycle state.
func (s *StreamSession) State() SessionState {
	return s.state
}

// Err returns the terminal failure, if any.
func (s *StreamSession) Err() error {
	return s.err
}

// StreamSynthesizer opens StreamSessions against a fixed endpoint
// configuration. It implements Synthesizer.
type StreamSynthesizer struct {
	cfg    SessionConfig
	logger zerolog.Logger
}

// NewStreamSynthesizer creates a synthesizer factory for cfg.
func NewStreamSynthesizer(cfg SessionConfig, logger zerolog.Logger) (*StreamSynthesizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StreamSynthesizer{cfg: cfg, logger: logger}, nil
}

// OpenStream starts one streaming session for text. The caller owns the
// returned FrameSource and must Close it.
func (f *StreamSynthesizer) OpenStream(ctx context.Context, text string) (FrameSource, error) {
	session, err := NewStreamSession(f.cfg, f.logger)
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx, text); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}
