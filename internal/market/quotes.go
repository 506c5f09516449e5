package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/leolimacr/advisor-core/internal/metrics"
)

const defaultQuoteURL = "https://brapi.dev/api"

// ErrNoQuote is returned when the source knows nothing about a symbol
var ErrNoQuote = errors.New("no quote available")

// Quote is a point-in-time price
type Quote struct {
	Symbol        Symbol
	Name          string
	Price         decimal.Decimal
	ChangePercent decimal.Decimal
}

// QuoteSource fetches a single quote
type QuoteSource interface {
	Quote(ctx context.Context, symbol Symbol) (*Quote, error)
}

// HTTPQuoteSource reads quotes from a brapi-compatible API
type HTTPQuoteSource struct {
	client  *http.Client
	baseURL string
	token   string
}

var _ QuoteSource = (*HTTPQuoteSource)(nil)

// NewHTTPQuoteSource creates a quote client. An empty baseURL uses brapi.dev.
func NewHTTPQuoteSource(baseURL, token string, timeout time.Duration) *HTTPQuoteSource {
	if baseURL == "" {
		baseURL = defaultQuoteURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPQuoteSource{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

type stockResponse struct {
	Results []struct {
		Symbol                     string          `json:"symbol"`
		ShortName                  string          `json:"shortName"`
		RegularMarketPrice         decimal.Decimal `json:"regularMarketPrice"`
		RegularMarketChangePercent decimal.Decimal `json:"regularMarketChangePercent"`
	} `json:"results"`
}

type cryptoResponse struct {
	Coins []struct {
		Coin                       string          `json:"coin"`
		CoinName                   string          `json:"coinName"`
		RegularMarketPrice         decimal.Decimal `json:"regularMarketPrice"`
		RegularMarketChangePercent decimal.Decimal `json:"regularMarketChangePercent"`
	} `json:"coins"`
}

type currencyResponse struct {
	Currency []struct {
		Name      string          `json:"name"`
		BidPrice  decimal.Decimal `json:"bidPrice"`
		PctChange decimal.Decimal `json:"pctChange"`
	} `json:"currency"`
}

// Quote dispatches on the symbol kind
func (s *HTTPQuoteSource) Quote(ctx context.Context, symbol Symbol) (*Quote, error) {
	switch symbol.Kind {
	case KindCrypto:
		var resp cryptoResponse
		if err := s.get(ctx, "/v2/crypto", url.Values{"coin": {symbol.Code}, "currency": {"BRL"}}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Coins) == 0 {
			return nil, fmt.Errorf("%s: %w", symbol.Code, ErrNoQuote)
		}
		c := resp.Coins[0]
		return &Quote{Symbol: symbol, Name: c.CoinName, Price: c.RegularMarketPrice, ChangePercent: c.RegularMarketChangePercent}, nil

	case KindCurrency:
		var resp currencyResponse
		if err := s.get(ctx, "/v2/currency", url.Values{"currency": {symbol.Code}}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Currency) == 0 {
			return nil, fmt.Errorf("%s: %w", symbol.Code, ErrNoQuote)
		}
		c := resp.Currency[0]
		return &Quote{Symbol: symbol, Name: c.Name, Price: c.BidPrice, ChangePercent: c.PctChange}, nil

	default:
		var resp stockResponse
		if err := s.get(ctx, "/quote/"+url.PathEscape(symbol.Code), nil, &resp); err != nil {
			return nil, err
		}
		if len(resp.Results) == 0 {
			return nil, fmt.Errorf("%s: %w", symbol.Code, ErrNoQuote)
		}
		r := resp.Results[0]
		return &Quote{Symbol: symbol, Name: r.ShortName, Price: r.RegularMarketPrice, ChangePercent: r.RegularMarketChangePercent}, nil
	}
}

func (s *HTTPQuoteSource) get(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	if s.token != "" {
		query.Set("token", s.token)
	}
	endpoint := s.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("quote API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode quote response: %w", err)
	}
	return nil
}

// ServiceConfig bounds quote fetching
type ServiceConfig struct {
	Concurrency int
	Timeout     time.Duration
}

// Service fetches quotes for several symbols at once
type Service struct {
	source QuoteSource
	config ServiceConfig
	logger *logrus.Logger
}

// NewService creates a quote service
func NewService(source QuoteSource, config ServiceConfig, logger *logrus.Logger) *Service {
	if config.Concurrency <= 0 {
		config.Concurrency = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 4 * time.Second
	}
	return &Service{source: source, config: config, logger: logger}
}

// Quotes fetches every symbol concurrently and keeps the input order.
// Failed symbols are logged and omitted; the call itself never fails.
func (s *Service) Quotes(ctx context.Context, symbols []Symbol) []Quote {
	if len(symbols) == 0 {
		return nil
	}

	results := make([]*Quote, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for i, symbol := range symbols {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, s.config.Timeout)
			defer cancel()

			q, err := s.source.Quote(qctx, symbol)
			if err != nil {
				metrics.QuoteFetches.WithLabelValues("error").Inc()
				s.logger.WithError(err).WithFields(logrus.Fields{
					"symbol": symbol.Code,
					"kind":   symbol.Kind,
				}).Warn("Quote fetch failed")
				return nil
			}
			metrics.QuoteFetches.WithLabelValues("ok").Inc()
			results[i] = q
			return nil
		})
	}
	_ = g.Wait()

	quotes := make([]Quote, 0, len(symbols))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes
}
