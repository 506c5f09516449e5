package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/cache"
	"github.com/leolimacr/advisor-core/internal/metrics"
	"github.com/leolimacr/advisor-core/internal/providers"
	"github.com/leolimacr/advisor-core/internal/types"
)

// ErrNoProviders is returned by RegisterProvider for an entry without models
var ErrNoProviders = errors.New("provider must declare at least one model")

// Config tunes the router
type Config struct {
	CallTimeout      time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	FingerprintTurns int
}

// ProviderEntry is one registered completion backend. Models[0] is the
// primary model; the rest are same-provider fallbacks tried in order.
type ProviderEntry struct {
	Adapter   providers.LLMProvider
	Models    []string
	Priority  int
	MaxTokens int
}

// Name returns the adapter name
func (e *ProviderEntry) Name() string {
	return e.Adapter.GetProviderName()
}

// Router executes completions against the first healthy provider, falling
// back across models and then providers.
type Router struct {
	mu      sync.RWMutex
	entries []*ProviderEntry
	health  *HealthTracker
	cache   cache.ResponseCache
	config  Config
	logger  *logrus.Logger
}

// NewRouter creates a new router instance. responseCache may be nil.
func NewRouter(config Config, responseCache cache.ResponseCache, logger *logrus.Logger) *Router {
	if config.CallTimeout <= 0 {
		config.CallTimeout = 25 * time.Second
	}
	if config.FingerprintTurns <= 0 {
		config.FingerprintTurns = 2
	}
	return &Router{
		health: NewHealthTracker(config.FailureThreshold, config.Cooldown, logger),
		cache:  responseCache,
		config: config,
		logger: logger,
	}
}

// RegisterProvider adds a provider to the router. Entries are kept sorted by
// ascending priority; ties keep registration order.
func (r *Router) RegisterProvider(entry ProviderEntry) error {
	if entry.Adapter == nil {
		return errors.New("provider adapter is required")
	}
	if len(entry.Models) == 0 {
		return fmt.Errorf("%s: %w", entry.Adapter.GetProviderName(), ErrNoProviders)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.entries {
		if existing.Name() == entry.Name() {
			return fmt.Errorf("provider %s already registered", entry.Name())
		}
	}

	e := entry
	r.entries = append(r.entries, &e)
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].Priority < r.entries[j].Priority
	})
	r.health.Register(e.Name())

	r.logger.WithFields(logrus.Fields{
		"provider": e.Name(),
		"family":   e.Adapter.Family(),
		"models":   e.Models,
		"priority": e.Priority,
	}).Info("Provider registered")
	return nil
}

// ListProviders returns registered provider names in priority order
func (r *Router) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name()
	}
	return names
}

// ProviderStatuses returns health copies in priority order
func (r *Router) ProviderStatuses() []types.ProviderStatus {
	r.mu.RLock()
	entries := append([]*ProviderEntry(nil), r.entries...)
	r.mu.RUnlock()

	statuses := make([]types.ProviderStatus, 0, len(entries))
	for _, e := range entries {
		status, ok := r.health.Status(e.Name())
		if !ok {
			continue
		}
		status.Family = string(e.Adapter.Family())
		status.Priority = e.Priority
		status.Models = append([]string(nil), e.Models...)
		statuses = append(statuses, status)
	}
	return statuses
}

// Health exposes the circuit breaker
func (r *Router) Health() *HealthTracker {
	return r.health
}

// Close stops background reactivation timers
func (r *Router) Close() {
	r.health.Stop()
}

// Invoke answers conversation under system. It returns an error only for
// malformed input; when every provider fails it returns a contingency
// response addressed to opts.UserName.
func (r *Router) Invoke(ctx context.Context, conversation []types.ConversationTurn, system string, opts types.InvokeOptions) (*types.RouterResponse, error) {
	if err := types.ValidateConversation(conversation); err != nil {
		return nil, err
	}
	start := time.Now()

	var key string
	if r.cache != nil && !opts.SkipCache {
		key = cache.Fingerprint(opts.CacheScope, conversation, r.config.FingerprintTurns)
		if entry, ok := r.cache.Get(ctx, key); ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			resp := entry.Response
			resp.Cached = true
			r.logger.WithFields(logrus.Fields{
				"provider": resp.Provider,
				"model":    resp.Model,
			}).Debug("Response served from cache")
			return &resp, nil
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	r.mu.RLock()
	entries := append([]*ProviderEntry(nil), r.entries...)
	r.mu.RUnlock()

	trail := &attemptTrail{}
	for _, entry := range entries {
		name := entry.Name()
		if !r.health.Available(name) {
			r.logger.WithField("provider", name).Debug("Skipping suspended provider")
			continue
		}

		for _, model := range entry.Models {
			// The circuit may open on this provider's own failures
			if !r.health.Available(name) {
				break
			}
			if ctx.Err() != nil {
				r.logger.WithError(ctx.Err()).Warn("Request cancelled before provider attempt")
				return r.contingency(opts, trail, start), nil
			}

			attemptStart := time.Now()
			completion, err := r.attempt(ctx, entry, model, conversation, system, opts)
			trail.record(name, model, attemptStart, err)
			if err != nil && ctx.Err() != nil {
				// The caller gave up; the provider is not at fault.
				metrics.ProviderAttempts.WithLabelValues(name, model, "cancelled").Inc()
				r.logger.WithError(ctx.Err()).WithFields(logrus.Fields{
					"provider": name,
					"model":    model,
				}).Warn("Request cancelled during provider attempt")
				return r.contingency(opts, trail, start), nil
			}
			if err != nil {
				metrics.ProviderAttempts.WithLabelValues(name, model, "failure").Inc()
				r.health.RecordFailure(name, err)
				r.logger.WithError(err).WithFields(logrus.Fields{
					"provider": name,
					"model":    model,
				}).Warn("Provider attempt failed")
				continue
			}

			metrics.ProviderAttempts.WithLabelValues(name, model, "success").Inc()
			r.health.RecordSuccess(name)

			servedModel := completion.Model
			if servedModel == "" {
				servedModel = model
			}
			resp := &types.RouterResponse{
				Success:    true,
				Text:       completion.Text,
				Provider:   name,
				Model:      servedModel,
				TokensUsed: completion.TokensUsed,
				Attempts:   trail.attempts,
			}
			if key != "" {
				if err := r.cache.Set(ctx, key, *resp); err != nil {
					r.logger.WithError(err).Warn("Failed to cache response")
				}
			}

			r.logger.WithFields(logrus.Fields{
				"provider":    name,
				"model":       servedModel,
				"attempts":    len(trail.attempts),
				"tokens":      completion.TokensUsed,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("Request routed")
			return resp, nil
		}
	}

	return r.contingency(opts, trail, start), nil
}

// attempt runs one bounded provider call. Empty text counts as a failure.
func (r *Router) attempt(ctx context.Context, entry *ProviderEntry, model string, conversation []types.ConversationTurn, system string, opts types.InvokeOptions) (*types.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	req := &types.CompletionRequest{
		Model:       model,
		System:      system,
		Turns:       conversation,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if req.MaxTokens == nil && entry.MaxTokens > 0 {
		budget := entry.MaxTokens
		req.MaxTokens = &budget
	}

	timer := prometheusTimer(entry.Name())
	completion, err := callWithDeadline(callCtx, entry.Adapter, req)
	timer.ObserveDuration()
	if err != nil {
		return nil, err
	}
	if completion == nil || strings.TrimSpace(completion.Text) == "" {
		return nil, errors.New("provider returned empty completion")
	}
	return completion, nil
}

// callWithDeadline returns when the adapter does or when ctx expires,
// whichever comes first, so an adapter that ignores ctx cannot stall fallback.
func callWithDeadline(ctx context.Context, adapter providers.LLMProvider, req *types.CompletionRequest) (*types.Completion, error) {
	type result struct {
		completion *types.Completion
		err        error
	}
	done := make(chan result, 1)
	go func() {
		c, err := adapter.ChatCompletion(ctx, req)
		done <- result{c, err}
	}()

	select {
	case res := <-done:
		return res.completion, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("provider call timed out: %w", ctx.Err())
	}
}

func (r *Router) contingency(opts types.InvokeOptions, trail *attemptTrail, start time.Time) *types.RouterResponse {
	metrics.ContingencyCount.Inc()
	r.logger.WithFields(logrus.Fields{
		"attempts":    len(trail.attempts),
		"providers":   trail.providersTried(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Error("All providers exhausted, returning contingency response")
	return contingencyResponse(opts.UserName, trail)
}

func prometheusTimer(provider string) *prometheus.Timer {
	return prometheus.NewTimer(metrics.ProviderLatency.WithLabelValues(provider))
}
