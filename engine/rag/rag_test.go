package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/avenhq/support-engine/engine/domain"
	"github.com/avenhq/support-engine/engine/search"
	"github.com/avenhq/support-engine/pkg/ollama"
)

type fakeSearcher struct {
	hits []search.Result
	err  error
	cfg  search.Config
}

func (f *fakeSearcher) Semantic(_ context.Context, _, _ string, cfg search.Config) ([]search.Result, error) {
	f.cfg = cfg
	return f.hits, f.err
}

type fakeCompleter struct {
	req  ollama.ChatRequest
	resp ollama.ChatResponse
	err  error
}

func (f *fakeCompleter) Complete(_ context.Context, req ollama.ChatRequest) (ollama.ChatResponse, error) {
	f.req = req
	return f.resp, f.err
}

func supportHits() []search.Result {
	return []search.Result{
		{ID: "aven_faq_1", Score: 0.91, Metadata: map[string]string{
			domain.FieldCategory:     "Payments",
			domain.FieldOriginalText: "Question: How do I pay?\nAnswer: Use the app.",
		}},
		{ID: "aven_faq_2", Score: 0.74, Metadata: map[string]string{
			domain.FieldCategory:     "Account",
			domain.FieldOriginalText: "Question: How do I reset my password?\nAnswer: Use the link.",
		}},
	}
}

func TestAnswer_WithContext(t *testing.T) {
	searcher := &fakeSearcher{hits: supportHits()}
	completer := &fakeCompleter{resp: ollama.ChatResponse{Text: "Use the app.", TokensUsed: 40}}
	svc := New(searcher, completer, "support", "aven-faqs", nil)

	resp, err := svc.Answer(context.Background(), Request{Message: "How do I pay?"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Message != "Use the app." {
		t.Errorf("message = %q", resp.Message)
	}
	if !resp.Metadata.ContextUsed {
		t.Error("context should be marked used")
	}
	if resp.Metadata.SearchResults != 2 || resp.Metadata.TopScore != 0.91 {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
	if resp.Metadata.TokensUsed != 40 {
		t.Errorf("tokens = %d", resp.Metadata.TokensUsed)
	}
	if searcher.cfg.TopK != contextTopK {
		t.Errorf("retrieval topK = %d", searcher.cfg.TopK)
	}

	system := completer.req.Messages[0]
	if system.Role != "system" {
		t.Fatalf("first message role = %q", system.Role)
	}
	if !strings.Contains(system.Content, "[Payments] (relevance 0.91)") {
		t.Errorf("system prompt missing tagged context: %q", system.Content)
	}
	last := completer.req.Messages[len(completer.req.Messages)-1]
	if last.Role != "user" || last.Content != "How do I pay?" {
		t.Errorf("last message = %+v", last)
	}
}

func TestAnswer_DegradesOnSearchFailure(t *testing.T) {
	searcher := &fakeSearcher{err: domain.NewServiceError("qdrant", "query", errors.New("down"))}
	completer := &fakeCompleter{resp: ollama.ChatResponse{Text: "General guidance."}}
	svc := New(searcher, completer, "support", "aven-faqs", nil)

	resp, err := svc.Answer(context.Background(), Request{Message: "How do I pay?"})
	if err != nil {
		t.Fatalf("retrieval failure must not fail the answer: %v", err)
	}
	if resp.Metadata.ContextUsed {
		t.Error("degraded answer must report contextUsed=false")
	}
	if resp.Metadata.SearchResults != 0 || resp.Metadata.TopScore != 0 {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
	if strings.Contains(completer.req.Messages[0].Content, "Support context") {
		t.Error("degraded prompt must not include a context block")
	}
}

func TestAnswer_EmptyHitsDegrade(t *testing.T) {
	completer := &fakeCompleter{resp: ollama.ChatResponse{Text: "ok"}}
	svc := New(&fakeSearcher{}, completer, "support", "aven-faqs", nil)
	resp, err := svc.Answer(context.Background(), Request{Message: "Anything?"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Metadata.ContextUsed {
		t.Error("no hits means no context")
	}
}

func TestAnswer_SkipContext(t *testing.T) {
	searcher := &fakeSearcher{hits: supportHits()}
	completer := &fakeCompleter{resp: ollama.ChatResponse{Text: "ok"}}
	svc := New(searcher, completer, "support", "aven-faqs", nil)
	resp, err := svc.Answer(context.Background(), Request{Message: "Hi", SkipContext: true})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if resp.Metadata.ContextUsed || resp.Metadata.SearchResults != 0 {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
}

func TestAnswer_CompletionErrorPropagates(t *testing.T) {
	completer := &fakeCompleter{err: domain.NewServiceError("ollama", "chat", errors.New("down"))}
	svc := New(&fakeSearcher{}, completer, "support", "aven-faqs", nil)
	if _, err := svc.Answer(context.Background(), Request{Message: "Hi"}); !errors.Is(err, domain.ErrExternalService) {
		t.Errorf("want completion error, got %v", err)
	}
}

func TestAnswer_EmptyMessageRejected(t *testing.T) {
	svc := New(&fakeSearcher{}, &fakeCompleter{}, "support", "aven-faqs", nil)
	if _, err := svc.Answer(context.Background(), Request{Message: "   "}); !errors.Is(err, domain.ErrInvalidRecord) {
		t.Errorf("want invalid-record error, got %v", err)
	}
}

func TestAnswer_ConversationOrder(t *testing.T) {
	completer := &fakeCompleter{resp: ollama.ChatResponse{Text: "ok"}}
	svc := New(&fakeSearcher{}, completer, "support", "aven-faqs", nil)
	_, err := svc.Answer(context.Background(), Request{
		Message: "And autopay?",
		Conversation: []Turn{
			{Role: "user", Content: "How do I pay?"},
			{Role: "assistant", Content: "Use the app."},
		},
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	roles := make([]string, len(completer.req.Messages))
	for i, m := range completer.req.Messages {
		roles[i] = m.Role
	}
	want := []string{"system", "user", "assistant", "user"}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v", roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("roles[%d] = %q, want %q", i, roles[i], want[i])
		}
	}
}

func TestBuildContext_Truncation(t *testing.T) {
	long := strings.Repeat("answer text ", 200) // ~2400 chars per entry
	hits := []search.Result{
		{Score: 0.9, Metadata: map[string]string{domain.FieldCategory: "Payments", domain.FieldOriginalText: long}},
		{Score: 0.8, Metadata: map[string]string{domain.FieldCategory: "Account", domain.FieldOriginalText: long}},
		{Score: 0.7, Metadata: map[string]string{domain.FieldCategory: "Application", domain.FieldOriginalText: long}},
	}
	block := buildContext(hits)
	if len(block) > maxContextChars {
		t.Errorf("context block %d chars exceeds budget", len(block))
	}
	if !strings.Contains(block, "[Payments]") {
		t.Error("first entry must survive truncation")
	}
	if strings.Contains(block, "[Application]") {
		t.Error("third entry should have been truncated away")
	}
}

func TestBuildContext_SkipsTextlessHits(t *testing.T) {
	hits := []search.Result{
		{Score: 0.9, Metadata: map[string]string{domain.FieldCategory: "Payments"}},
	}
	if got := buildContext(hits); got != "" {
		t.Errorf("textless hits should yield empty context, got %q", got)
	}
}
