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

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes one completion call.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ChatResponse is a finished completion.
type ChatResponse struct {
	Text       string
	TokensUsed int
}

// ChatClient generates completions via Ollama's /api/chat endpoint.
type ChatClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewChatClient creates an Ollama chat client. model is the default used when
// a request doesn't name one.
func NewChatClient(baseURL, model string) *ChatClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &ChatClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type chatAPIReq struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatAPIResp struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Complete runs a non-streaming chat completion.
func (c *ChatClient) Complete(ctx context.Context, in ChatRequest) (ChatResponse, error) {
	model := in.Model
	if model == "" {
		model = c.model
	}
	opts := map[string]any{}
	if in.Temperature > 0 {
		opts["temperature"] = in.Temperature
	}
	if in.MaxTokens > 0 {
		opts["num_predict"] = in.MaxTokens
	}

	body, _ := json.Marshal(chatAPIReq{Model: model, Messages: in.Messages, Options: opts})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("ollama: chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return ChatResponse{}, domain.NewServiceError("ollama", "chat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ChatResponse{}, domain.NewServiceError("ollama", "chat", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return ChatResponse{}, domain.NewServiceError("ollama", "chat", fmt.Errorf("status %d", resp.StatusCode))
	}

	var result chatAPIResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ChatResponse{}, fmt.Errorf("ollama: chat decode: %w", err)
	}

	return ChatResponse{
		Text:       result.Message.Content,
		TokensUsed: result.PromptEvalCount + result.EvalCount,
	}, nil
}
