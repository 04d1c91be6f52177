package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

type openaiCompatible struct {
	client    *openai.Client
	model     string
	maxTokens int
	jsonMode  bool
}

func newOpenAICompatible(cfg Config) LLM {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &openaiCompatible{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		jsonMode:  cfg.JSONMode,
	}
}

func (o *openaiCompatible) Chat(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  convertOpenAIMessages(systemPrompt, messages),
		MaxTokens: o.maxTokens,
	}

	if o.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("api error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}

func convertOpenAIMessages(systemPrompt string, messages []Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage

	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}

	for _, msg := range messages {
		if len(msg.Images) == 0 {
			out = append(out, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
			continue
		}

		// Content and MultiContent are mutually exclusive
		var parts []openai.ChatMessagePart
		if msg.Content != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: msg.Content})
		}
		for _, img := range msg.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: imageURL(img), Detail: openai.ImageURLDetailAuto},
			})
		}

		out = append(out, openai.ChatCompletionMessage{Role: msg.Role, MultiContent: parts})
	}

	return out
}

func imageURL(img ImageContent) string {
	if img.URL != "" {
		return img.URL
	}

	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "image/jpeg"
	}

	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
