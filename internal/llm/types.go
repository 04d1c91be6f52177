package llm

import "context"

type Config struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	// JSONMode asks providers that support it to return a single JSON object.
	JSONMode bool
}

// ImageContent references an image either by URL (preferred, e.g. a
// presigned object URL) or by inline bytes.
type ImageContent struct {
	URL       string
	Data      []byte
	MediaType string
}

type Message struct {
	Role    string
	Content string
	Images  []ImageContent
}

type LLM interface {
	Chat(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}
