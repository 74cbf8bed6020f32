package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
)

// OllamaProvider is the default local backend. Chat and embeddings may use
// different models; embedding models generally cannot chat and vice versa.
type OllamaProvider struct {
	client     *api.Client
	model      string
	embedModel string
}

func NewOllamaProvider(model, embedModel string) (*OllamaProvider, error) {
	if model == "" {
		model = "llama3.2"
	}
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}

	baseURL := "http://localhost:11434"
	if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
		baseURL = envURL
	}
	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	client := api.NewClient(uri, http.DefaultClient)

	return &OllamaProvider{
		client:     client,
		model:      model,
		embedModel: embedModel,
	}, nil
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	var apiMsgs []api.Message
	for _, m := range messages {
		apiMsgs = append(apiMsgs, api.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := &api.ChatRequest{
		Model:    p.model,
		Messages: apiMsgs,
		Stream:   new(bool), // false
		// Constrain output to valid JSON so decision parsing rarely falls
		// back to raw text.
		Format: json.RawMessage(`"json"`),
	}

	var respContent string
	var promptTokens, evalTokens int

	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		respContent += resp.Message.Content
		if resp.Done {
			promptTokens = resp.PromptEvalCount
			evalTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ollama chat: %v", ErrUnavailable, err)
	}

	return &Response{
		Content: respContent,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: evalTokens,
			TotalTokens:      promptTokens + evalTokens,
		},
	}, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbeddingRequest{
		Model:  p.embedModel,
		Prompt: text,
	}
	resp, err := p.client.Embeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embeddings: %v", ErrUnavailable, err)
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
