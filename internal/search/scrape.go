package search

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const defaultScrapeURL = "https://html.duckduckgo.com/html/"

var (
	// Also matches the lite layout's td.result-snippet cells
	snippetPattern = regexp.MustCompile(`(?is)<(a|div|span|td)[^>]*class=["'][^"']*result[_-]{1,2}snippet[^"']*["'][^>]*>(.*?)</(?:a|div|span|td)>`)
	tagPattern     = regexp.MustCompile(`(?s)<[^>]+>`)
)

// Scraper extracts plain-text snippets from a search results page
type Scraper interface {
	Snippets(ctx context.Context, query string) ([]string, error)
}

// ScrapeClient fetches a generic HTML results page and extracts snippets
type ScrapeClient struct {
	client      *http.Client
	endpoint    string
	maxSnippets int
	maxBodySize int64
	userAgent   string
}

var _ Scraper = (*ScrapeClient)(nil)

// ScrapeOption configures the ScrapeClient.
type ScrapeOption func(*ScrapeClient)

// WithEndpoint sets the results page URL; the query is sent as q.
func WithEndpoint(endpoint string) ScrapeOption {
	return func(s *ScrapeClient) {
		if endpoint != "" {
			s.endpoint = endpoint
		}
	}
}

// WithMaxSnippets caps the snippets returned.
func WithMaxSnippets(n int) ScrapeOption {
	return func(s *ScrapeClient) {
		if n > 0 {
			s.maxSnippets = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ScrapeOption {
	return func(s *ScrapeClient) {
		s.userAgent = ua
	}
}

// NewScrapeClient creates a ScrapeClient with sensible defaults.
func NewScrapeClient(opts ...ScrapeOption) *ScrapeClient {
	s := &ScrapeClient{
		client:      &http.Client{Timeout: 10 * time.Second},
		endpoint:    defaultScrapeURL,
		maxSnippets: 3,
		maxBodySize: 2 * 1024 * 1024,
		userAgent:   "Mozilla/5.0 (compatible; AdvisorCore/1.0)",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snippets fetches the results page for query
func (s *ScrapeClient) Snippets(ctx context.Context, query string) ([]string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid scrape endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("kl", "br-pt")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build scrape request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scrape fetch returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read results page: %w", err)
	}
	return ExtractSnippets(raw, s.maxSnippets), nil
}

// ExtractSnippets parses a results page with CSS selectors and falls back to
// pattern matching over the raw markup when no element matches.
func ExtractSnippets(page []byte, limit int) []string {
	var snippets []string
	add := func(text string) bool {
		text = strings.Join(strings.Fields(text), " ")
		if text != "" {
			snippets = append(snippets, text)
		}
		return limit <= 0 || len(snippets) < limit
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page)); err == nil {
		doc.Find(".result__snippet").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			return add(sel.Text())
		})
	}
	if len(snippets) > 0 {
		return snippets
	}

	for _, m := range snippetPattern.FindAllSubmatch(page, -1) {
		text := html.UnescapeString(tagPattern.ReplaceAllString(string(m[2]), ""))
		if !add(text) {
			break
		}
	}
	return snippets
}
