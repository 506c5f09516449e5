// Package search answers web queries through a cascade of strategies: a
// structured search API, an HTML results scrape, then a fixed sentinel.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/metrics"
)

// UnavailableMessage is returned when every stage failed
const UnavailableMessage = "A pesquisa na web está indisponível no momento. Responda com base no seu conhecimento e avise que os dados podem não estar atualizados."

// Config tunes the cascade
type Config struct {
	Timeout      time.Duration
	MonthlyLimit int64
}

// Cascade runs the search stages in order
type Cascade struct {
	structured StructuredSearcher
	scraper    Scraper
	usage      UsageCounter
	config     Config
	logger     *logrus.Logger
}

// NewCascade creates a cascade. structured and usage may be nil, in which
// case stage 1 is skipped.
func NewCascade(structured StructuredSearcher, scraper Scraper, usage UsageCounter, config Config, logger *logrus.Logger) *Cascade {
	if config.Timeout <= 0 {
		config.Timeout = 8 * time.Second
	}
	return &Cascade{
		structured: structured,
		scraper:    scraper,
		usage:      usage,
		config:     config,
		logger:     logger,
	}
}

// Search returns a text summary for query and whether any stage found one.
// It never fails: the last resort is UnavailableMessage.
func (c *Cascade) Search(ctx context.Context, query string) (string, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return UnavailableMessage, false
	}
	log := c.logger.WithField("query", query)

	if c.structuredAllowed(ctx, log) {
		if summary, ok := c.runStructured(ctx, query, log); ok {
			metrics.SearchStages.WithLabelValues("structured", "found").Inc()
			return summary, true
		}
		metrics.SearchStages.WithLabelValues("structured", "empty").Inc()
	} else {
		metrics.SearchStages.WithLabelValues("structured", "skipped").Inc()
	}

	if c.scraper != nil {
		scrapeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		snippets, err := c.scraper.Snippets(scrapeCtx, query)
		cancel()
		if err != nil {
			log.WithError(err).Warn("Scrape search failed")
		}
		if len(snippets) > 0 {
			metrics.SearchStages.WithLabelValues("scrape", "found").Inc()
			log.WithField("snippets", len(snippets)).Info("Search answered by scrape fallback")
			return strings.Join(snippets, "\n\n"), true
		}
		metrics.SearchStages.WithLabelValues("scrape", "empty").Inc()
	}

	metrics.SearchStages.WithLabelValues("sentinel", "unavailable").Inc()
	log.Warn("All search stages failed")
	return UnavailableMessage, false
}

// structuredAllowed applies the monthly ceiling. A failing counter does not
// block the stage.
func (c *Cascade) structuredAllowed(ctx context.Context, log *logrus.Entry) bool {
	if c.structured == nil {
		return false
	}
	if c.usage == nil || c.config.MonthlyLimit <= 0 {
		return true
	}

	used, err := c.usage.Current(ctx)
	if err != nil {
		log.WithError(err).Warn("Search usage counter unavailable")
		return true
	}
	if used >= c.config.MonthlyLimit {
		log.WithFields(logrus.Fields{
			"used":  used,
			"limit": c.config.MonthlyLimit,
		}).Info("Monthly structured search ceiling reached, skipping to scrape")
		return false
	}
	return true
}

func (c *Cascade) runStructured(ctx context.Context, query string, log *logrus.Entry) (string, bool) {
	if c.usage != nil {
		if _, err := c.usage.Increment(ctx); err != nil {
			log.WithError(err).Warn("Failed to record search usage")
		}
	}

	searchCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	result, err := c.structured.Search(searchCtx, query)
	if err != nil {
		log.WithError(err).Info("Structured search failed, falling back")
		return "", false
	}
	summary := result.Summary()
	return summary, summary != ""
}
