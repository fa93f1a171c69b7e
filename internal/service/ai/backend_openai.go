package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures the OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

// OpenAIBackend serves chat and embeddings through langchaingo.
type OpenAIBackend struct {
	llm      *openai.LLM
	embedder embeddings.Embedder
}

// NewOpenAIBackend creates the langchaingo client and its embedder.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key required")
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.EmbeddingModel))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}
	return &OpenAIBackend{llm: llm, embedder: embedder}, nil
}

// Complete runs one GenerateContent call.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	callOpts := []llms.CallOption{llms.WithTemperature(float64(req.Temperature))}
	if req.Model != "" {
		callOpts = append(callOpts, llms.WithModel(req.Model))
	}

	resp, err := b.llm.GenerateContent(ctx, toLangchainMessages(req.Messages), callOpts...)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response choices")
	}
	return resp.Choices[0].Content, nil
}

// Embed embeds text with the embedding model configured at construction.
func (b *OpenAIBackend) Embed(ctx context.Context, _ string, text string) ([]float32, error) {
	vector, err := b.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, classify(err)
	}
	return vector, nil
}

func toLangchainMessages(messages []*schema.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		var role llms.ChatMessageType
		switch msg.Role {
		case schema.System:
			role = llms.ChatMessageTypeSystem
		case schema.Assistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, msg.Content))
	}
	return out
}
