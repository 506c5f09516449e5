// Package advisor coordinates one advisory request end to end: fast
// paths, data gathering, instruction assembly, routing, the optional web
// search round and answer cleanup.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/leolimacr/advisor-core/internal/discretion"
	"github.com/leolimacr/advisor-core/internal/market"
	"github.com/leolimacr/advisor-core/internal/metrics"
	"github.com/leolimacr/advisor-core/internal/textutil"
	"github.com/leolimacr/advisor-core/internal/types"
	"github.com/leolimacr/advisor-core/internal/userdata"
)

var (
	// ErrUnauthenticated is returned when the request carries no user id
	ErrUnauthenticated = errors.New("request is not authenticated")
	// ErrEmptyPrompt is returned for blank prompts
	ErrEmptyPrompt = errors.New("prompt must not be empty")
)

// LocalProvider labels answers produced without a completion provider
const LocalProvider = "local"

// intentCompliance labels refused regulated-advice requests
const intentCompliance = "compliance_refusal"

// Paths label how an answer was produced
const (
	pathGreeting   = "greeting"
	pathPresence   = "presence"
	pathCompliance = "compliance"
	pathRouter     = "router"
	pathSearch     = "search"
	pathFallback   = "fallback"
)

// Completer is the routing dependency
type Completer interface {
	Invoke(ctx context.Context, conversation []types.ConversationTurn, system string, opts types.InvokeOptions) (*types.RouterResponse, error)
}

// DataGatherer is the user data dependency
type DataGatherer interface {
	ResolvePlan(ctx context.Context, userID string) string
	Gather(ctx context.Context, userID, planTier string) userdata.Snapshot
}

// QuoteFetcher is the market data dependency
type QuoteFetcher interface {
	Quotes(ctx context.Context, symbols []market.Symbol) []market.Quote
}

// Searcher is the web search dependency
type Searcher interface {
	Search(ctx context.Context, query string) (string, bool)
}

// Config tunes the orchestrator
type Config struct {
	AssistantName string
	HistoryTurns  int
	Location      *time.Location
}

// Orchestrator answers advisory requests
type Orchestrator struct {
	router Completer
	data   DataGatherer
	quotes QuoteFetcher
	search Searcher
	config Config
	logger *logrus.Logger
	now    func() time.Time
}

// NewOrchestrator wires an orchestrator. quotes and search may be nil, in
// which case those features are off.
func NewOrchestrator(router Completer, data DataGatherer, quotes QuoteFetcher, search Searcher, config Config, logger *logrus.Logger) *Orchestrator {
	if config.AssistantName == "" {
		config.AssistantName = "Conselheiro"
	}
	if config.HistoryTurns <= 0 {
		config.HistoryTurns = 10
	}
	if config.Location == nil {
		config.Location = time.FixedZone("BRT", -3*60*60)
	}
	return &Orchestrator{
		router: router,
		data:   data,
		quotes: quotes,
		search: search,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Advise answers one prompt. Only malformed input is an error; every
// other failure degrades to a non-empty answer.
func (o *Orchestrator) Advise(ctx context.Context, req types.AdviseRequest) (resp *types.AdviseResponse, err error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrUnauthenticated
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	start := time.Now()
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	at := req.At
	if at.IsZero() {
		at = o.now()
	}
	history := sanitizeHistory(req.History, o.config.HistoryTurns)
	firstTurn := !types.HasNonSystemTurn(history)
	if req.IsFirstInteraction != nil {
		firstTurn = *req.IsFirstInteraction
	}

	log := o.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"user_id":    req.UserID,
	})
	meta := types.AdviseMeta{RequestID: requestID}
	path := pathRouter

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Advisory pipeline panicked")
			meta.Provider = LocalProvider
			resp = &types.AdviseResponse{Success: true, Answer: FallbackMessage(req.UserName), Meta: meta}
			err = nil
			path = pathFallback
		}
		metrics.AdviceCount.WithLabelValues(meta.Intent, path).Inc()
		metrics.AdviceDuration.Observe(time.Since(start).Seconds())
		log.WithFields(logrus.Fields{
			"intent":      meta.Intent,
			"path":        path,
			"provider":    meta.Provider,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("Advice completed")
	}()

	message := types.UserTurn(prompt, &at)
	folded := textutil.Fold(prompt)

	// Fast paths never touch providers or user data
	switch {
	case discretion.AsksIfPresent(message, history):
		path = pathPresence
		return localAnswer(&meta, string(discretion.IntentGreeting), PresenceMessage(req.UserName)), nil
	case discretion.IsGreetingOnly(folded):
		path = pathGreeting
		answer := ReGreetingMessage(req.UserName)
		if firstTurn {
			answer = WelcomeMessage(req.UserName)
		}
		return localAnswer(&meta, string(discretion.IntentGreeting), answer), nil
	}

	if check := discretion.CheckRequest(prompt); check.Violation {
		path = pathCompliance
		log.WithField("category", check.Category).Info("Regulated advice request refused")
		return localAnswer(&meta, intentCompliance, discretion.RefusalMessage(req.UserName)), nil
	}

	snap, quotes := o.gather(ctx, req.UserID, prompt)
	meta.DataStatus = string(snap.Status)

	decision := discretion.Analyze(message, history, discretion.DataFlags{
		HasTransactions: snap.Transactions.HasData,
		HasGoals:        snap.Goals.HasData,
		HasMarket:       len(quotes) > 0,
	})
	meta.Intent = string(decision.Intent)
	log.WithFields(logrus.Fields{
		"intent":     decision.Intent,
		"mood":       decision.Mood,
		"complexity": decision.Complexity,
		"depth":      decision.Policy.Depth.String(),
	}).Debug("Context analyzed")

	system := BuildInstructions(InstructionInput{
		AssistantName: o.config.AssistantName,
		UserName:      req.UserName,
		Now:           at.In(o.config.Location),
		FirstTurn:     firstTurn,
		Decision:      decision,
		Snapshot:      snap,
		Quotes:        quotes,
		SearchEnabled: o.search != nil,
	})

	conversation := append(append([]types.ConversationTurn(nil), history...), message)
	opts := types.InvokeOptions{UserName: req.UserName, CacheScope: req.UserID}

	routed, err := o.router.Invoke(ctx, conversation, system, opts)
	if err != nil {
		log.WithError(err).Error("Router rejected conversation")
		path = pathFallback
		meta.Provider = LocalProvider
		return &types.AdviseResponse{Success: true, Answer: FallbackMessage(req.UserName), Meta: meta}, nil
	}

	if query, ok := ParseSearchRequest(routed.Text); ok && !routed.Contingency && o.search != nil {
		if second := o.searchAndRetry(ctx, log, conversation, routed.Text, query, system, opts); second != nil {
			routed = second
			path = pathSearch
			meta.SearchUsed = true
		}
	}

	meta.Provider = routed.Provider
	meta.Model = routed.Model
	meta.Cached = routed.Cached

	answer := routed.Text
	if check := discretion.CheckAnswer(answer); check.Violation {
		log.WithFields(logrus.Fields{
			"category": check.Category,
			"provider": routed.Provider,
		}).Warn("Provider answer contained regulated advice")
		answer = discretion.RefusalMessage(req.UserName)
	}

	answer = PostProcess(answer, firstTurn)
	if answer == "" {
		path = pathFallback
		answer = FallbackMessage(req.UserName)
	}

	return &types.AdviseResponse{Success: true, Answer: answer, Meta: meta}, nil
}

func localAnswer(meta *types.AdviseMeta, intent, answer string) *types.AdviseResponse {
	meta.Intent = intent
	meta.Provider = LocalProvider
	return &types.AdviseResponse{Success: true, Answer: answer, Meta: *meta}
}

// gather runs the plan lookup plus snapshot and the quote fetch side by side
func (o *Orchestrator) gather(ctx context.Context, userID, prompt string) (userdata.Snapshot, []market.Quote) {
	var (
		snap   userdata.Snapshot
		quotes []market.Quote
		g      errgroup.Group
	)

	g.Go(func() error {
		plan := o.data.ResolvePlan(ctx, userID)
		snap = o.data.Gather(ctx, userID, plan)
		return nil
	})
	if o.quotes != nil {
		if symbols := market.ExtractSymbols(prompt); len(symbols) > 0 {
			g.Go(func() error {
				quotes = o.quotes.Quotes(ctx, symbols)
				return nil
			})
		}
	}
	_ = g.Wait()
	return snap, quotes
}

// searchAndRetry runs the cascade and asks the router again with the
// results appended. It returns nil when the second call cannot be used.
func (o *Orchestrator) searchAndRetry(ctx context.Context, log *logrus.Entry, conversation []types.ConversationTurn, firstAnswer, query, system string, opts types.InvokeOptions) *types.RouterResponse {
	results, found := o.search.Search(ctx, query)
	log.WithFields(logrus.Fields{
		"query": query,
		"found": found,
	}).Info("Provider requested web search")

	now := o.now()
	followUp := append(append([]types.ConversationTurn(nil), conversation...),
		types.AssistantTurn(firstAnswer, &now),
		types.UserTurn(searchTurnText(query, results), &now),
	)

	second, err := o.router.Invoke(ctx, followUp, system, opts)
	if err != nil {
		log.WithError(err).Warn("Second router call rejected")
		return nil
	}
	return second
}

func searchTurnText(query, results string) string {
	return fmt.Sprintf("Resultado da pesquisa na web sobre \"%s\":\n\n%s\n\nUse essas informações para responder à minha pergunta anterior, sem mencionar a pesquisa nem repetir o comando.", query, results)
}

// sanitizeHistory drops system and blank turns and keeps the last limit
func sanitizeHistory(history []types.ConversationTurn, limit int) []types.ConversationTurn {
	out := make([]types.ConversationTurn, 0, len(history))
	for _, turn := range history {
		if turn.Role == types.RoleSystem || strings.TrimSpace(turn.Text) == "" {
			continue
		}
		out = append(out, turn)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
