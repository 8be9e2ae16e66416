// Package rag answers user questions by retrieving support context from the
// search layer and delegating the grounded prompt to an LLM.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avenhq/support-engine/engine/domain"
	"github.com/avenhq/support-engine/engine/search"
	"github.com/avenhq/support-engine/pkg/ollama"
)

const (
	// contextTopK is the fixed retrieval depth for answering. Five hits is
	// enough to ground an FAQ answer without drowning the prompt.
	contextTopK = 5
	// maxContextChars bounds the assembled context block.
	maxContextChars = 4000
)

const systemPrompt = "You are a helpful customer support assistant for Aven, " +
	"a financial services company offering a home-equity-backed credit card. " +
	"Answer using the provided support context when it is relevant. If the " +
	"context does not cover the question, say so and suggest contacting " +
	"support directly. Be concise and accurate; never invent account details."

// Searcher retrieves support snippets for a query.
type Searcher interface {
	Semantic(ctx context.Context, index, query string, cfg search.Config) ([]search.Result, error)
}

// Completer generates the final answer text.
type Completer interface {
	Complete(ctx context.Context, req ollama.ChatRequest) (ollama.ChatResponse, error)
}

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one answering call.
type Request struct {
	Message      string  `json:"message"`
	Conversation []Turn  `json:"conversation,omitempty"`
	SkipContext  bool    `json:"-"`
	Temperature  float64 `json:"temperature,omitempty"`
	Model        string  `json:"model,omitempty"`
}

// Metadata describes how an answer was produced.
type Metadata struct {
	ResponseTime  time.Duration `json:"responseTime"`
	TokensUsed    int           `json:"tokensUsed"`
	ContextUsed   bool          `json:"contextUsed"`
	SearchResults int           `json:"searchResults"`
	TopScore      float32       `json:"topScore"`
}

// Response is a finished answer.
type Response struct {
	Message  string   `json:"message"`
	Metadata Metadata `json:"metadata"`
}

// Service composes retrieval and completion.
type Service struct {
	searcher  Searcher
	completer Completer
	index     string
	namespace string
	log       *slog.Logger
}

// New creates an answering Service bound to one index and namespace.
func New(searcher Searcher, completer Completer, index, namespace string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		searcher:  searcher,
		completer: completer,
		index:     index,
		namespace: namespace,
		log:       log,
	}
}

// Answer retrieves context for req.Message and generates a grounded reply.
// Retrieval trouble never fails the call: on search error or zero hits the
// answer is generated without context and Metadata.ContextUsed reports false,
// so callers can tell a degraded answer from a grounded one. Completion
// errors do propagate; without an LLM there is no answer to give.
func (s *Service) Answer(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return Response{}, fmt.Errorf("rag: %w: empty message", domain.ErrInvalidRecord)
	}
	start := time.Now()

	var hits []search.Result
	if !req.SkipContext {
		var err error
		hits, err = s.searcher.Semantic(ctx, s.index, req.Message, search.Config{
			TopK:      contextTopK,
			Namespace: s.namespace,
		})
		if err != nil {
			s.log.Warn("rag: retrieval failed, answering without context", "error", err)
			hits = nil
		}
	}

	contextBlock := buildContext(hits)
	messages := buildMessages(contextBlock, req.Conversation, req.Message)

	out, err := s.completer.Complete(ctx, ollama.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("rag: completion: %w", err)
	}

	meta := Metadata{
		ResponseTime:  time.Since(start),
		TokensUsed:    out.TokensUsed,
		ContextUsed:   contextBlock != "",
		SearchResults: len(hits),
	}
	if len(hits) > 0 {
		meta.TopScore = hits[0].Score
	}
	return Response{Message: out.Text, Metadata: meta}, nil
}

// buildContext concatenates hits into one block, each entry tagged with its
// category and relevance score, truncated at maxContextChars on an entry
// boundary. Returns "" when no hit contributes text.
func buildContext(hits []search.Result) string {
	var b strings.Builder
	for _, h := range hits {
		text := h.Metadata[domain.FieldOriginalText]
		if text == "" {
			text = h.Metadata[domain.FieldQuestion]
		}
		if text == "" {
			continue
		}
		category := h.Metadata[domain.FieldCategory]
		if category == "" {
			category = "General"
		}
		entry := fmt.Sprintf("[%s] (relevance %.2f)\n%s\n\n", category, h.Score, text)
		if b.Len()+len(entry) > maxContextChars {
			break
		}
		b.WriteString(entry)
	}
	return strings.TrimSpace(b.String())
}

func buildMessages(contextBlock string, conversation []Turn, message string) []ollama.Message {
	system := systemPrompt
	if contextBlock != "" {
		system += "\n\nSupport context:\n" + contextBlock
	}
	messages := make([]ollama.Message, 0, len(conversation)+2)
	messages = append(messages, ollama.Message{Role: "system", Content: system})
	for _, t := range conversation {
		messages = append(messages, ollama.Message{Role: t.Role, Content: t.Content})
	}
	return append(messages, ollama.Message{Role: "user", Content: message})
}
