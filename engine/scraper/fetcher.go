package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avenhq/support-engine/engine/domain"
	"github.com/avenhq/support-engine/pkg/resilience"
)

// Fetcher retrieves raw page text from the external content-retrieval service.
// The service is a black box: one POST with the target URLs, plain text back.
type Fetcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *resilience.Breaker
}

// NewFetcher creates a Fetcher for the given service endpoint.
func NewFetcher(baseURL, apiKey string) *Fetcher {
	return &Fetcher{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// FetchText fetches the extracted text for one URL. Repeated upstream outages
// trip the breaker, so retry loops fail fast instead of hammering the service.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	var text string
	err := f.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		text, err = f.fetch(ctx, url)
		return err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) (string, error) {
	body, err := json.Marshal(fetchRequest{URLs: []string{url}, Text: true})
	if err != nil {
		return "", fmt.Errorf("scraper: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/contents", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("scraper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", domain.NewServiceError("content-retrieval", "getContents", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", domain.NewServiceError("content-retrieval", "getContents",
			fmt.Errorf("%w: http 429", domain.ErrRateLimited))
	case resp.StatusCode != http.StatusOK:
		return "", domain.NewServiceError("content-retrieval", "getContents",
			fmt.Errorf("http %d from %s", resp.StatusCode, url))
	}

	var result fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", domain.NewServiceError("content-retrieval", "decode", err)
	}
	if len(result.Results) == 0 {
		return "", domain.NewServiceError("content-retrieval", "getContents",
			fmt.Errorf("empty results for %s", url))
	}
	return result.Results[0].Text, nil
}
