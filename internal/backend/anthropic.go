package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// DefaultModel is used when no model is configured.
const DefaultModel = anthropic.ModelClaudeSonnet4_20250514

// defaultMaxTokens bounds the response size of a single exchange.
const defaultMaxTokens = 8192

const workerSystemPrompt = `You are an autonomous worker executing one unit of a larger plan.
Complete the task you are given directly and completely. Report what you did
and any follow-up work you could not finish. Be concise.`

// AnthropicConfig holds the settings for the Anthropic API backend.
type AnthropicConfig struct {
	// APIKey authenticates direct API access. Falls back to the
	// ANTHROPIC_API_KEY environment variable when empty.
	APIKey string
	// Model selects the model for all sessions.
	Model anthropic.Model
	// MaxTokens caps the response size per exchange.
	MaxTokens int64
	// UseBedrock routes requests through AWS Bedrock instead of the
	// Anthropic API.
	UseBedrock bool
	// AWSRegion overrides the region for Bedrock access.
	AWSRegion string
	// AWSProfile selects a shared config profile for Bedrock access.
	AWSProfile string
}

// AnthropicBackend executes units against the Anthropic Messages API,
// optionally via AWS Bedrock.
type AnthropicBackend struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	tracker   *TokenTracker
}

var _ Backend = (*AnthropicBackend)(nil)

// NewAnthropic creates an Anthropic API backend.
func NewAnthropic(ctx context.Context, cfg AnthropicConfig) (*AnthropicBackend, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		if cfg.APIKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
			return nil, fmt.Errorf("no API key configured: %w", ErrUnavailable)
		}
		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	if cfg.UseBedrock {
		model = translateModelForBedrock(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &AnthropicBackend{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		tracker:   NewTokenTracker(),
	}, nil
}

// translateModelForBedrock converts API model identifiers to Bedrock
// inference profile IDs.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	translations := map[anthropic.Model]anthropic.Model{
		anthropic.ModelClaudeSonnet4_20250514:         "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.Model("claude-opus-4-20250514"):     "us.anthropic.claude-opus-4-20250514-v1:0",
		anthropic.Model("claude-3-5-haiku-20241022"):  "us.anthropic.claude-3-5-haiku-20241022-v1:0",
		anthropic.Model("claude-3-7-sonnet-20250219"): "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
	}
	if translated, ok := translations[model]; ok {
		return translated
	}
	return model
}

// Name identifies the backend kind.
func (b *AnthropicBackend) Name() string { return "anthropic" }

// Model returns the configured model identifier.
func (b *AnthropicBackend) Model() string { return string(b.model) }

// Tracker returns the backend's token usage tracker.
func (b *AnthropicBackend) Tracker() *TokenTracker { return b.tracker }

// Close releases backend-level resources. The API client holds none.
func (b *AnthropicBackend) Close() error { return nil }

// Open creates a session bound to the given unit.
func (b *AnthropicBackend) Open(ctx context.Context, opts OpenOptions) (Session, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &anthropicSession{backend: b, opts: opts}, nil
}

// anthropicSession is a single execution context against the Messages API.
// The API is stateless, so the session only tracks the in-flight exchange.
type anthropicSession struct {
	backend *AnthropicBackend
	opts    OpenOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

var _ Session = (*anthropicSession)(nil)

// Send submits the prompt as a single blocking Messages call in a background
// goroutine. The returned channel receives the result or error event and is
// then closed.
func (s *anthropicSession) Send(ctx context.Context, prompt string) (<-chan Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("session closed")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	system := workerSystemPrompt
	if s.opts.Role != "" {
		system = fmt.Sprintf("Role: %s.\n\n%s", s.opts.Role, workerSystemPrompt)
	}

	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		defer cancel()

		resp, err := s.backend.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     s.backend.model,
			MaxTokens: s.backend.maxTokens,
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			events <- Event{Type: EventError, Err: fmt.Sprintf("messages API: %v", err)}
			return
		}

		s.backend.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var sb strings.Builder
		for _, block := range resp.Content {
			if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
				sb.WriteString(textBlock.Text)
			}
		}

		events <- Event{
			Type:      EventResult,
			Text:      sb.String(),
			TokensIn:  resp.Usage.InputTokens,
			TokensOut: resp.Usage.OutputTokens,
			Cost:      EstimateCost(resp.Usage.InputTokens, resp.Usage.OutputTokens),
		}
	}()

	return events, nil
}

// Cancel aborts the in-flight exchange, if any.
func (s *anthropicSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Close marks the session closed and cancels any in-flight exchange.
func (s *anthropicSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
