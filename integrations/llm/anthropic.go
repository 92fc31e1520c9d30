package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

func init() {
	RegisterProvider("anthropic", newAnthropicClient, "claude")
}

type anthropicClient struct {
	api         anthropic.Client
	model       string
	system      string
	temperature float64
	maxTokens   int
}

func newAnthropicClient(cfg FactoryConfig) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("anthropic: API key not configured")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &anthropicClient{
		api:         anthropic.NewClient(opts...),
		model:       valueOrDefault(cfg.Model, defaultAnthropicModel),
		system:      cfg.SystemPrompt,
		temperature: cfg.Temperature,
		maxTokens:   orInt(cfg.MaxTokens, 1024),
	}, nil
}

// Invoke sends the prompt as a single user turn. The Messages API has no JSON
// mode, so FormatJSON is enforced through the system prompt.
func (c *anthropicClient) Invoke(ctx context.Context, req Request) (string, error) {
	system := valueOrDefault(req.System, c.system)
	if req.Format == FormatJSON {
		system = strings.TrimSpace(system + "\n" + jsonOnlyInstruction)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(c.maxTokens),
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: messages: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
