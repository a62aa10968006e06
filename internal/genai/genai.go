// Package genai classifies free-form messages into command-shaped intents
// using the OpenAI API. It is the fallback the router consults when no task
// is running and the text is not a recognized command.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Intents the classifier may return. Anything else normalizes to
// IntentUnknown.
const (
	IntentAddClient = "add_client"
	IntentAddCoach  = "add_coach"
	IntentCancel    = "cancel"
	IntentMenu      = "menu"
	IntentHelp      = "help"
	IntentUnknown   = "unknown"
)

const systemPrompt = `You classify short WhatsApp messages sent to a coaching platform bot.
Answer with exactly one of these labels and nothing else:
add_client - the sender wants to add, create, or invite a client
add_coach - the sender wants to add, find, or invite a coach
cancel - the sender wants to stop or abandon what they were doing
menu - the sender asks what they can do or wants the menu
help - the sender asks how the bot works
unknown - anything else`

// completionService is the minimal chat surface, for stubbing in tests.
type completionService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  openai.ChatModel
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the classification model.
func WithModel(model openai.ChatModel) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	completions completionService
	model       openai.ChatModel
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(options ...Option) (*Client, error) {
	opts := Opts{Model: openai.ChatModelGPT4oMini}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(opts.APIKey))
	return &Client{completions: &cli.Chat.Completions, model: opts.Model}, nil
}

// ClassifyIntent maps free-form text to one of the known intent labels.
func (c *Client) ClassifyIntent(ctx context.Context, actor, text string) (string, error) {
	resp, err := c.completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		slog.Error("GenAI ClassifyIntent request failed", "error", err)
		return "", fmt.Errorf("failed to classify intent: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	intent := NormalizeIntent(resp.Choices[0].Message.Content)
	slog.Debug("GenAI intent classified", "intent", intent)
	return intent, nil
}

// NormalizeIntent trims and validates a raw model answer. Unknown labels and
// some verbosity around the label degrade safely to IntentUnknown.
func NormalizeIntent(raw string) string {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.Trim(label, `"'.`)
	switch label {
	case IntentAddClient, IntentAddCoach, IntentCancel, IntentMenu, IntentHelp:
		return label
	default:
		return IntentUnknown
	}
}
