package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"juris-rag/internal/config"
	"juris-rag/internal/models"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Options override the client defaults for one call. Zero values keep the default.
type Options struct {
	MaxTokens   int
	Temperature float64
	JSON        bool
}

// Client is a chat completion client safe for concurrent use.
type Client struct {
	model    llms.Model
	defaults Options
}

// NewClient creates an OpenAI-compatible chat client from llmConfig.
func NewClient(llmConfig config.LLMConfig) (*Client, error) {
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating llm client")
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return New(llm, Options{MaxTokens: llmConfig.MaxTokens, Temperature: llmConfig.Temperature}), nil
}

func New(model llms.Model, defaults Options) *Client {
	return &Client{model: model, defaults: defaults}
}

// Complete sends messages to the model and returns the first choice. Any
// provider error, or an empty response, is reported as ErrProviderFailure.
func (c *Client) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatRole(m.Role), m.Content))
	}

	maxTokens, temperature := c.defaults.MaxTokens, c.defaults.Temperature
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	callOpts := []llms.CallOption{llms.WithTemperature(temperature)}
	if maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}
	if opts.JSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	res, err := c.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrProviderFailure, err)
	}
	if res == nil || len(res.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", models.ErrProviderFailure)
	}
	return res.Choices[0].Content, nil
}

func chatRole(role string) schema.ChatMessageType {
	switch role {
	case RoleSystem:
		return schema.ChatMessageTypeSystem
	case RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
