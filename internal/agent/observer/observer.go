// Package observer implements the observe phase: it polls the four signal
// streams over a sliding window, normalizes records into signals, and
// detects patterns and anomalies in the batch.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/model"
)

// sourceLimit caps rows read from each stream per cycle.
const sourceLimit = 50

// Source names, also used as Signal.Source.
const (
	SourceTickets   = "support_tickets"
	SourceAPILogs   = "merchant_api_logs"
	SourceWebhooks  = "webhook_logs"
	SourceCheckouts = "checkout_sessions"
)

// Source reads recent records from the signal streams. *storage.DB satisfies it.
type Source interface {
	RecentTickets(ctx context.Context, since time.Time, limit int) ([]model.SupportTicket, error)
	RecentAPIErrors(ctx context.Context, since time.Time, limit int) ([]model.APILog, error)
	RecentWebhookFailures(ctx context.Context, since time.Time, limit int) ([]model.WebhookLog, error)
	RecentCheckoutFailures(ctx context.Context, since time.Time, limit int) ([]model.CheckoutSession, error)
}

// PatternMemory files detected patterns for cross-cycle learning.
// *state.Store satisfies it.
type PatternMemory interface {
	Remember(ctx context.Context, p model.Pattern) (bool, error)
}

// Config tunes the observation window.
type Config struct {
	SignalWindow time.Duration
	BatchSize    int
	// AnomalyThreshold is reserved for z-score based detection and is not
	// consulted by the current heuristics.
	AnomalyThreshold float64
}

// DefaultConfig returns the standard observation settings.
func DefaultConfig() Config {
	return Config{
		SignalWindow:     15 * time.Minute,
		BatchSize:        100,
		AnomalyThreshold: 2.0,
	}
}

// Observer produces one Observation per call.
type Observer struct {
	source   Source
	memory   *state.Memory
	patterns PatternMemory
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Observer. patterns may be nil to disable pattern memory.
func New(source Source, memory *state.Memory, patterns PatternMemory, cfg Config, logger *slog.Logger) *Observer {
	if cfg.SignalWindow <= 0 {
		cfg.SignalWindow = DefaultConfig().SignalWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Observer{
		source:   source,
		memory:   memory,
		patterns: patterns,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Observe reads the current window and returns a snapshot. A failing stream
// contributes no signals and is listed in DegradedSources; only context
// cancellation is returned as an error.
func (o *Observer) Observe(ctx context.Context) (model.Observation, error) {
	now := o.now()
	since := now.Add(-o.cfg.SignalWindow)

	signals, degraded := o.collect(ctx, since)
	if err := ctx.Err(); err != nil {
		return model.Observation{}, fmt.Errorf("observer: %w", err)
	}
	if len(signals) > o.cfg.BatchSize {
		signals = signals[:o.cfg.BatchSize]
	}

	windowMinutes := int(o.cfg.SignalWindow / time.Minute)
	patterns := detectPatterns(signals, windowMinutes, now)
	anomalies := detectAnomalies(signals, windowMinutes)

	obs := model.Observation{
		Signals:          nonNil(signals),
		PatternsDetected: nonNil(patterns),
		Anomalies:        nonNil(anomalies),
		Summary:          summarize(signals, patterns, anomalies),
		DegradedSources:  degraded,
		Timestamp:        now,
	}

	o.remember(ctx, patterns)
	if o.memory != nil {
		o.memory.BufferSignals(signals...)
		o.memory.SetObservation(obs)
	}

	o.logger.Info("observation complete",
		"signal_count", len(obs.Signals),
		"pattern_count", len(obs.PatternsDetected),
		"anomaly_count", len(obs.Anomalies),
		"degraded_sources", degraded,
	)
	return obs, nil
}

// collect queries all four streams concurrently and concatenates their
// signals in a fixed stream order.
func (o *Observer) collect(ctx context.Context, since time.Time) ([]model.Signal, []string) {
	var (
		tickets, apiErrs, hooks, checkouts []model.Signal
		mu                                 sync.Mutex
		degraded                           []string
	)
	fail := func(source string, err error) {
		o.logger.Warn("observer: source unavailable", "source", source, "error", err)
		mu.Lock()
		degraded = append(degraded, source)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := o.source.RecentTickets(gctx, since, sourceLimit)
		if err != nil {
			fail(SourceTickets, err)
			return nil
		}
		tickets = make([]model.Signal, 0, len(rows))
		for _, t := range rows {
			tickets = append(tickets, ticketSignal(t))
		}
		return nil
	})
	g.Go(func() error {
		rows, err := o.source.RecentAPIErrors(gctx, since, sourceLimit)
		if err != nil {
			fail(SourceAPILogs, err)
			return nil
		}
		apiErrs = make([]model.Signal, 0, len(rows))
		for _, l := range rows {
			apiErrs = append(apiErrs, apiErrorSignal(l))
		}
		return nil
	})
	g.Go(func() error {
		rows, err := o.source.RecentWebhookFailures(gctx, since, sourceLimit)
		if err != nil {
			fail(SourceWebhooks, err)
			return nil
		}
		hooks = make([]model.Signal, 0, len(rows))
		for _, w := range rows {
			hooks = append(hooks, webhookSignal(w))
		}
		return nil
	})
	g.Go(func() error {
		rows, err := o.source.RecentCheckoutFailures(gctx, since, sourceLimit)
		if err != nil {
			fail(SourceCheckouts, err)
			return nil
		}
		checkouts = make([]model.Signal, 0, len(rows))
		for _, c := range rows {
			checkouts = append(checkouts, checkoutSignal(c))
		}
		return nil
	})
	_ = g.Wait() // goroutines never return errors; failures are recorded in degraded

	out := make([]model.Signal, 0, len(tickets)+len(apiErrs)+len(hooks)+len(checkouts))
	out = append(out, tickets...)
	out = append(out, apiErrs...)
	out = append(out, hooks...)
	out = append(out, checkouts...)
	return out, sortedSources(degraded)
}

// remember files each pattern into pattern memory. Failures are logged and
// do not affect the observation.
func (o *Observer) remember(ctx context.Context, patterns []model.Pattern) {
	if o.patterns == nil {
		return
	}
	for _, p := range patterns {
		known, err := o.patterns.Remember(ctx, p)
		if err != nil {
			o.logger.Warn("observer: pattern memory write failed", "pattern_id", p.ID, "error", err)
			continue
		}
		o.logger.Debug("pattern remembered", "pattern_id", p.ID, "recurring", known)
	}
}

// sortedSources orders degraded source names by stream order so output is
// stable regardless of goroutine completion order.
func sortedSources(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	var out []string
	for _, n := range []string{SourceTickets, SourceAPILogs, SourceWebhooks, SourceCheckouts} {
		if set[n] {
			out = append(out, n)
		}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
