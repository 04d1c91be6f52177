package llm

import "fmt"

const defaultMaxTokens = 3000

// OpenAI-compatible providers and their base URLs
var openAICompatibleProviders = map[string]string{
	"openrouter": "https://openrouter.ai/api/v1",
	"mistral":    "https://api.mistral.ai/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"together":   "https://api.together.xyz/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"fireworks":  "https://api.fireworks.ai/inference/v1",
}

func New(cfg Config) (LLM, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	switch cfg.Provider {
	case "claude":
		return newClaude(cfg), nil
	case "openai":
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Model == "" {
			cfg.Model = "gpt-4o"
		}
		return newOpenAICompatible(cfg), nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if cfg.Model == "" {
			cfg.Model = "llava"
		}
		cfg.APIKey = "ollama"
		// Ollama's OpenAI-compatible endpoint
		cfg.BaseURL = baseURL + "/v1"
		return newOpenAICompatible(cfg), nil
	default:
		baseURL, ok := openAICompatibleProviders[cfg.Provider]
		if !ok {
			return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = baseURL
		}
		if cfg.Model == "" && cfg.Provider == "openrouter" {
			cfg.Model = "openai/gpt-4o"
		}
		return newOpenAICompatible(cfg), nil
	}
}

// IsKnownProvider checks if a provider is recognized
func IsKnownProvider(provider string) bool {
	switch provider {
	case "claude", "openai", "ollama":
		return true
	default:
		_, ok := openAICompatibleProviders[provider]
		return ok
	}
}
