package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/memorylane/companion/internal/config"
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a conversational reply to a user message.
type Generator interface {
	GenerateReply(ctx context.Context, message string) (string, error)
}

// Detector lists the objects visible in an image.
type Detector interface {
	DetectObjects(ctx context.Context, image []byte, mimeType string) ([]string, error)
}

// Provider bundles the model capabilities the service is built on.
type Provider interface {
	Embedder
	Generator
	Detector
	Close() error
}

const (
	replySystemInstruction = "You are a warm, patient therapy companion talking with someone who may have memory difficulties. " +
		"Reply in one to three short, simple sentences. Be encouraging and never correct the user harshly. " +
		"Do not give medical advice."

	detectPrompt = "List the distinct objects and kinds of people visible in this image. " +
		"Respond with a JSON array of short lowercase names only, for example [\"person\", \"dog\", \"cake\"]."

	fallbackReply = "I'm sorry, I couldn't think of a reply just now. Could you tell me a bit more?"
)

// parseObjectList extracts the JSON string array a model returned for
// detectPrompt, tolerating surrounding prose or code fences.
func parseObjectList(text string) ([]string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in detector response: %.80q", text)
	}
	var raw []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse detector response: %w", err)
	}
	objects := make([]string, 0, len(raw))
	for _, o := range raw {
		if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
			objects = append(objects, o)
		}
	}
	return objects, nil
}

var (
	_ Provider = (*LLMService)(nil)
	_ Provider = (*OpenAIService)(nil)
)

// NewProvider builds the Provider selected by cfg.LLMProvider.
func NewProvider(ctx context.Context, cfg config.Config) (Provider, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		svc, err := NewLLMService(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case config.ProviderOpenAI:
		svc, err := NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
