package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTavilyURL = "https://api.tavily.com/search"

// StructuredResult is the answer from a structured search API
type StructuredResult struct {
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results,omitempty"`
}

// Result is one search hit
type Result struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content"`
}

// StructuredSearcher queries a structured search provider
type StructuredSearcher interface {
	Search(ctx context.Context, query string) (*StructuredResult, error)
}

// TavilyClient calls a Tavily-compatible search endpoint
type TavilyClient struct {
	client     *http.Client
	apiKey     string
	endpoint   string
	maxResults int
}

var _ StructuredSearcher = (*TavilyClient)(nil)

// NewTavilyClient creates a structured search client. maxResults is clamped to 3..5.
func NewTavilyClient(apiKey, endpoint string, maxResults int) *TavilyClient {
	if endpoint == "" {
		endpoint = defaultTavilyURL
	}
	if maxResults < 3 {
		maxResults = 3
	}
	if maxResults > 5 {
		maxResults = 5
	}
	return &TavilyClient{
		client:     &http.Client{Timeout: 10 * time.Second},
		apiKey:     apiKey,
		endpoint:   endpoint,
		maxResults: maxResults,
	}
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
	SearchDepth   string `json:"search_depth"`
}

// Search runs a query. Non-2xx statuses, quota errors included, are errors.
func (c *TavilyClient) Search(ctx context.Context, query string) (*StructuredResult, error) {
	if c.apiKey == "" {
		return nil, errors.New("structured search api key not configured")
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:        c.apiKey,
		Query:         query,
		MaxResults:    c.maxResults,
		IncludeAnswer: true,
		SearchDepth:   "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("structured search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("structured search returned status %d", resp.StatusCode)
	}

	var result StructuredResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	if len(result.Results) > c.maxResults {
		result.Results = result.Results[:c.maxResults]
	}
	return &result, nil
}

// Summary prefers the synthesized answer, else joins result snippets
func (r *StructuredResult) Summary() string {
	if r == nil {
		return ""
	}
	if answer := strings.TrimSpace(r.Answer); answer != "" {
		return answer
	}

	var parts []string
	for _, res := range r.Results {
		if content := strings.TrimSpace(res.Content); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n")
}
