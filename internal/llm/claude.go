package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type claude struct {
	client    anthropic.Client
	model     string
	maxTokens int
	jsonMode  bool
}

func newClaude(cfg Config) LLM {
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &claude{client: client, model: model, maxTokens: cfg.MaxTokens, jsonMode: cfg.JSONMode}
}

func (c *claude) Chat(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	if c.jsonMode {
		// no response_format on this API; ask for it in the system prompt instead
		systemPrompt = strings.TrimSpace(systemPrompt + "\nRespond with a single JSON object and nothing else.")
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(c.maxTokens),
		Messages:  convertClaudeMessages(messages),
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("no text content in response (stop reason %s)", resp.StopReason)
	}

	return text.String(), nil
}

func convertClaudeMessages(messages []Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion

		for _, img := range msg.Images {
			// the SDK path only takes inline bytes
			if len(img.Data) == 0 {
				continue
			}
			mediaType := img.MediaType
			if mediaType == "" {
				mediaType = "image/jpeg"
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(img.Data)))
		}

		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}

		if len(blocks) > 0 {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}

	return result
}
