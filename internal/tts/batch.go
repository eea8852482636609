package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/liveavatar/avatar-gateway/internal/audio"
	"github.com/liveavatar/avatar-gateway/internal/resilience"
)

// batchRequest is the one-shot synthesis request body.
type batchRequest struct {
	Text       string `json:"text"`
	VoiceID    string `json:"voice_id,omitempty"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// BatchClient synthesizes a whole utterance in one HTTP round trip and
// returns mono 16-bit PCM at the target rate. When the endpoint is
// unreachable or rejects the request, Synthesize falls back to a generated
// placeholder tone so downstream rendering can still be exercised.
type BatchClient struct {
	url        string
	apiKey     string
	voiceID    string
	sampleRate int
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewBatchClient creates a batch synthesis client targeting url. sampleRate
// is the PCM rate requested from the endpoint and produced by the fallback.
func NewBatchClient(url, apiKey, voiceID string, sampleRate int, logger zerolog.Logger) *BatchClient {
	return &BatchClient{
		url:        url,
		apiKey:     apiKey,
		voiceID:    voiceID,
		sampleRate: sampleRate,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Synthesize returns raw PCM for text. The endpoint answers with a WAV body;
// if its sample rate differs from the requested one the audio is resampled
// locally. Endpoint failures degrade to a placeholder tone, never to an
// error: batch mode is a demo path and should produce output regardless.
func (c *BatchClient) Synthesize(ctx context.Context, text string) []byte {
	pcm, err := c.synthesizeRemote(ctx, text)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Batch synthesis failed, using placeholder tone")
		return PlaceholderTone(text, c.sampleRate)
	}
	return pcm
}

func (c *BatchClient) synthesizeRemote(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(batchRequest{
		Text:       text,
		VoiceID:    c.voiceID,
		Format:     "wav",
		SampleRate: c.sampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var wavData []byte
	err = resilience.Retry(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, snippet)
		}

		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}
		wavData = data
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}

	pcm, rate, err := audio.DecodeWAV(wavData)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rate != c.sampleRate {
		pcm = audio.ResampleBytes(pcm, rate, c.sampleRate)
	}
	return pcm, nil
}

// PlaceholderTone generates a soft 440 Hz sine with a fade-in/out envelope.
// Duration scales with text length (60 ms per character, clamped to 1.5-6 s)
// so longer lines produce visibly longer lip-sync clips.
func PlaceholderTone(text string, sampleRate int) []byte {
	durationSec := float64(len(text)) * 0.06
	if durationSec < 1.5 {
		durationSec = 1.5
	}
	if durationSec > 6.0 {
		durationSec = 6.0
	}

	n := int(durationSec * float64(sampleRate))
	samples := make([]int16, n)
	fade := sampleRate / 20 // 50 ms ramps
	for i := range samples {
		v := 0.2 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
		if i < fade {
			v *= float64(i) / float64(fade)
		}
		if n-i < fade {
			v *= float64(n-i) / float64(fade)
		}
		samples[i] = int16(math.Round(v * 32767))
	}
	return audio.SamplesToBytes(samples)
}
