package core

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	defaultOpenAIChatModel      = "gpt-4o-mini"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

// OpenAIService is a Provider for OpenAI-compatible endpoints.
type OpenAIService struct {
	llm *openai.LLM
}

// NewOpenAIService builds the provider; an empty baseURL uses the public API.
func NewOpenAIService(apiKey, baseURL string) (*OpenAIService, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(defaultOpenAIChatModel),
		openai.WithEmbeddingModel(defaultOpenAIEmbeddingModel),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	return &OpenAIService{llm: llm}, nil
}

func (s *OpenAIService) Close() error {
	return nil
}

func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("openai embedding request failed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("no embedding data received from openai")
	}
	return vectors[0], nil
}

func (s *OpenAIService) GenerateReply(ctx context.Context, message string) (string, error) {
	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(replySystemInstruction)}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(message)}},
	}
	resp, err := s.llm.GenerateContent(ctx, messages, llms.WithTemperature(0.7))
	if err != nil {
		return "", fmt.Errorf("openai reply generation failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		log.Warn("OpenAI reply was empty.")
		return fallbackReply, nil
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func (s *OpenAIService) DetectObjects(ctx context.Context, image []byte, mimeType string) ([]string, error) {
	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, image),
				llms.TextPart(detectPrompt),
			},
		},
	}
	resp, err := s.llm.GenerateContent(ctx, messages, llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("openai object detection failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai object detection returned no choices")
	}
	return parseObjectList(resp.Choices[0].Content)
}
