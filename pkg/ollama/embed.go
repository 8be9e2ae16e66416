// Package ollama is an HTTP client for a local Ollama server, covering the
// two capabilities the engine needs: text embeddings and chat completion.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avenhq/support-engine/engine/domain"
)

// DefaultBaseURL is the stock local Ollama endpoint.
const DefaultBaseURL = "http://localhost:11434"

// EmbedClient computes embeddings via Ollama's /api/embeddings endpoint.
type EmbedClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewEmbedClient creates an Ollama embedding client. baseURL defaults to
// DefaultBaseURL when empty.
func NewEmbedClient(baseURL, model string) *EmbedClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &EmbedClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding for a single text.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(embedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.NewServiceError("ollama", "embed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.NewServiceError("ollama", "embed", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewServiceError("ollama", "embed", fmt.Errorf("status %d", resp.StatusCode))
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama: embed decode: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch embeds each text in order. Ollama has no batch endpoint, so this
// issues one request per text and fails on the first error with its index.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("ollama: embed batch [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
