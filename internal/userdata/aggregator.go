package userdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/metrics"
)

// ErrGlobalDeadline marks a snapshot abandoned at the global deadline
var ErrGlobalDeadline = errors.New("user data global deadline exceeded")

// AggregatorConfig bounds the fetches
type AggregatorConfig struct {
	SubTimeout    time.Duration
	GlobalTimeout time.Duration
	PlanTimeout   time.Duration
}

// Aggregator gathers a user's transactions and goals concurrently under a
// global deadline, degrading to partial or empty data rather than failing.
type Aggregator struct {
	store  Store
	config AggregatorConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewAggregator creates an aggregator over store
func NewAggregator(store Store, config AggregatorConfig, logger *logrus.Logger) *Aggregator {
	if config.SubTimeout <= 0 {
		config.SubTimeout = 2500 * time.Millisecond
	}
	if config.GlobalTimeout <= 0 {
		config.GlobalTimeout = 3 * time.Second
	}
	if config.PlanTimeout <= 0 {
		config.PlanTimeout = time.Second
	}
	return &Aggregator{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// ResolvePlan looks up the user's plan tier. Failures resolve to NoPlan.
func (a *Aggregator) ResolvePlan(ctx context.Context, userID string) string {
	if a.store == nil {
		return NoPlan
	}
	plan, err := fetchBounded(ctx, a.config.PlanTimeout, func(ctx context.Context) (string, error) {
		return a.store.PlanTier(ctx, userID)
	})
	if err != nil || strings.TrimSpace(plan) == "" {
		if err != nil {
			a.logger.WithError(err).WithField("user_id", userID).Warn("Plan lookup failed, assuming no plan")
		}
		return NoPlan
	}
	return plan
}

// Gather builds the user's snapshot. It returns within the global deadline
// plus scheduling overhead, even if the store never answers.
func (a *Aggregator) Gather(ctx context.Context, userID, planTier string) Snapshot {
	start := a.now()
	lookback := LookbackDays(planTier)
	snap := Snapshot{PlanTier: planTier, LookbackDays: lookback}
	if snap.PlanTier == "" {
		snap.PlanTier = NoPlan
	}

	if a.store == nil {
		return a.finish(failedSnapshot(snap, errors.New("user data store not configured")), userID, start)
	}

	gctx, cancel := context.WithTimeout(ctx, a.config.GlobalTimeout)
	defer cancel()

	var since time.Time
	if lookback != Unbounded {
		since = start.AddDate(0, 0, -lookback)
	}

	txCh := make(chan Section[Transaction], 1)
	goalCh := make(chan Section[Goal], 1)

	go func() {
		items, err := fetchBounded(gctx, a.config.SubTimeout, func(ctx context.Context) ([]Transaction, error) {
			return a.store.ListTransactions(ctx, userID, since)
		})
		txCh <- newSection(items, err)
	}()
	go func() {
		items, err := fetchBounded(gctx, a.config.SubTimeout, func(ctx context.Context) ([]Goal, error) {
			return a.store.ListGoals(ctx, userID)
		})
		goalCh <- newSection(items, err)
	}()

	for pending := 2; pending > 0; pending-- {
		select {
		case s := <-txCh:
			snap.Transactions = s
		case s := <-goalCh:
			snap.Goals = s
		case <-gctx.Done():
			a.logger.WithFields(logrus.Fields{
				"user_id":    userID,
				"elapsed_ms": time.Since(start).Milliseconds(),
			}).Warn("User data gather hit global deadline")
			return a.finish(failedSnapshot(snap, ErrGlobalDeadline), userID, start)
		}
	}

	// Results racing the deadline are discarded
	if gctx.Err() != nil {
		return a.finish(failedSnapshot(snap, ErrGlobalDeadline), userID, start)
	}

	switch {
	case snap.HasData():
		snap.Status = StatusOK
	case snap.Transactions.Status == StatusError || snap.Goals.Status == StatusError:
		snap.Status = StatusError
		snap.ErrorReason = joinReasons(snap.Transactions.ErrorReason, snap.Goals.ErrorReason)
	default:
		snap.Status = StatusEmpty
	}
	return a.finish(snap, userID, start)
}

func (a *Aggregator) finish(snap Snapshot, userID string, start time.Time) Snapshot {
	metrics.GatherStatus.WithLabelValues(string(snap.Status)).Inc()
	entry := a.logger.WithFields(logrus.Fields{
		"user_id":      userID,
		"plan":         snap.PlanTier,
		"status":       snap.Status,
		"transactions": len(snap.Transactions.Items),
		"goals":        len(snap.Goals.Items),
		"elapsed_ms":   time.Since(start).Milliseconds(),
	})
	if snap.ErrorReason != "" {
		entry = entry.WithField("reason", snap.ErrorReason)
	}
	entry.Debug("User data gathered")
	return snap
}

func failedSnapshot(snap Snapshot, err error) Snapshot {
	snap.Transactions = Section[Transaction]{Status: StatusError, ErrorReason: err.Error()}
	snap.Goals = Section[Goal]{Status: StatusError, ErrorReason: err.Error()}
	snap.Status = StatusError
	snap.ErrorReason = err.Error()
	return snap
}

func joinReasons(reasons ...string) string {
	var out []string
	for _, r := range reasons {
		if r != "" {
			out = append(out, r)
		}
	}
	return strings.Join(out, "; ")
}

// fetchBounded runs fn under its own deadline. If fn ignores cancellation its
// result is abandoned; the buffered channel lets the goroutine exit later.
func fetchBounded[T any](parent context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	var zero T
	select {
	case r := <-ch:
		if r.err != nil {
			return zero, r.err
		}
		return r.value, nil
	case <-ctx.Done():
		return zero, fmt.Errorf("sub-fetch timed out: %w", ctx.Err())
	}
}
