// Package llm generates short spoken replies for the live avatar loop.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// ReplyGenerator turns a user's line into a reply suitable for synthesis.
type ReplyGenerator interface {
	Reply(ctx context.Context, userText string) (string, error)
}

// OpenAIGenerator implements ReplyGenerator on the OpenAI chat API. Each turn
// is an independent request carrying only the persona and the current line;
// the loop keeps no conversation history.
type OpenAIGenerator struct {
	client      oai.Client
	model       string
	persona     string
	temperature float64
}

// Option is a functional option for OpenAIGenerator.
type Option func(*options)

type options struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// NewOpenAIGenerator constructs a reply generator for the given model and
// persona prompt.
func NewOpenAIGenerator(apiKey, model, persona string, temperature float64, opts ...Option) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: model must not be empty")
	}

	cfg := &options{timeout: 30 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &OpenAIGenerator{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		persona:     persona,
		temperature: temperature,
	}, nil
}

// Reply generates the spoken reply for userText. The empty-reply case is an
// error so the caller can fall back to the user's text instead of synthesizing
// silence.
func (g *OpenAIGenerator) Reply(ctx context.Context, userText string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(g.persona),
			oai.UserMessage(userText),
		},
	}
	if g.temperature != 0 {
		params.Temperature = param.NewOpt(g.temperature)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices in response")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("llm: model returned an empty reply")
	}
	return reply, nil
}
