package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrMissingAPIKey is returned by NewOpenAI when no key is configured.
var ErrMissingAPIKey = errors.New("API key is not set")

// DefaultModel is used when OpenAIConfig.Model is empty.
const DefaultModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI client. Every value is passed in
// explicitly; the client never reads the environment.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional; for OpenAI-compatible providers
	Model      string
	MaxRetries int
	Timeout    time.Duration // per request; zero means the library default
}

// OpenAI generates docstrings with the chat completions API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates an OpenAI generator.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAI{client: openai.NewClient(opts...), model: model}, nil
}

// Model returns the model name requests are sent to.
func (o *OpenAI) Model() string {
	return o.model
}

// Generate asks the model for a docstring for the given function.
func (o *OpenAI) Generate(ctx context.Context, signature, body string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(signature, body)),
		},
		Temperature: openai.Float(0),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		genErr := &Error{Op: "request", Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			genErr.StatusCode = apiErr.StatusCode
		}
		return "", genErr
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &Error{Op: "response", Err: errors.New("no choices returned")}
	}

	// Prefer a completion that stopped on its own over a truncated one.
	choice := resp.Choices[0]
	for _, c := range resp.Choices {
		if c.FinishReason == "stop" {
			choice = c
			break
		}
	}

	text := cleanCompletion(choice.Message.Content)
	if text == "" {
		if choice.Message.Refusal != "" {
			return "", &Error{Op: "response", Err: fmt.Errorf("model refused: %s", choice.Message.Refusal)}
		}
		return "", &Error{Op: "response", Err: errors.New("empty completion")}
	}
	return text, nil
}
