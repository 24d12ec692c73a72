// Package agent runs the observe, reason, decide and act cycle, either on
// demand or on a fixed interval.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/mamori/internal/agent/actor"
	"github.com/ashita-ai/mamori/internal/agent/reasoner"
	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/model"
	"github.com/ashita-ai/mamori/internal/telemetry"
)

// LastRunKey is the state key of the snapshot written after every cycle.
const LastRunKey = "agent:last_run"

const lastRunTTL = 24 * time.Hour

var (
	// ErrCycleInProgress is returned by RunOnce while another cycle is running.
	ErrCycleInProgress = errors.New("agent: cycle already in progress")

	// ErrAlreadyStarted is returned by Start when the loop is already running.
	ErrAlreadyStarted = errors.New("agent: loop already started")
)

var tracer = otel.Tracer("mamori/agent")

// Observer produces the signal snapshot for a cycle.
type Observer interface {
	Observe(ctx context.Context) (model.Observation, error)
}

// Reasoner classifies an observation.
type Reasoner interface {
	Reason(ctx context.Context, obs model.Observation) ([]model.ReasoningResult, reasoner.Outcome)
}

// Decider turns reasoning results into action plans, one per result.
type Decider interface {
	Decide(results []model.ReasoningResult) []model.Decision
}

// Actor persists and executes an action plan.
type Actor interface {
	Execute(ctx context.Context, d model.Decision, ec actor.ExecContext) ([]model.ExecutionResult, error)
}

// StateWriter stores the last-run snapshot. *state.Store satisfies it.
type StateWriter interface {
	PersistState(ctx context.Context, key string, value map[string]any, ttl time.Duration) error
}

// Deps are the phases and shared state of an Agent. State may be nil.
type Deps struct {
	Observer Observer
	Reasoner Reasoner
	Decider  Decider
	Actor    Actor
	State    StateWriter
	Memory   *state.Memory
	Logger   *slog.Logger
}

// Agent drives cycles. At most one cycle runs at a time per Memory.
type Agent struct {
	observer Observer
	reasoner Reasoner
	decider  Decider
	actor    Actor
	state    StateWriter
	memory   *state.Memory
	logger   *slog.Logger
	now      func() time.Time

	cycles   metric.Int64Counter
	duration metric.Float64Histogram
	signals  metric.Int64Counter

	mu      sync.Mutex
	cron    *cron.Cron
	pending sync.WaitGroup
}

// New creates an Agent. A nil Memory gets a fresh one.
func New(deps Deps) *Agent {
	if deps.Memory == nil {
		deps.Memory = state.NewMemory()
	}
	meter := telemetry.Meter("mamori/agent")
	cycles, _ := meter.Int64Counter("mamori.agent.cycles",
		metric.WithDescription("Completed agent cycles by result"),
	)
	duration, _ := meter.Float64Histogram("mamori.agent.cycle.duration",
		metric.WithDescription("Agent cycle duration"),
		metric.WithUnit("ms"),
	)
	signals, _ := meter.Int64Counter("mamori.agent.signals",
		metric.WithDescription("Signals observed by type"),
	)
	return &Agent{
		observer: deps.Observer,
		reasoner: deps.Reasoner,
		decider:  deps.Decider,
		actor:    deps.Actor,
		state:    deps.State,
		memory:   deps.Memory,
		logger:   deps.Logger,
		now:      func() time.Time { return time.Now().UTC() },
		cycles:   cycles,
		duration: duration,
		signals:  signals,
	}
}

// Memory returns the shared in-process state.
func (a *Agent) Memory() *state.Memory {
	return a.memory
}

// LoopResult is everything one cycle produced.
type LoopResult struct {
	Observation model.Observation
	Reasoning   []model.ReasoningResult
	Decisions   []model.Decision
	Executions  []model.ExecutionResult
	Timestamp   time.Time
	Duration    time.Duration

	// ReasoningPersistErr is the advisory reasoning-log write outcome.
	ReasoningPersistErr error
}

// Summary returns the counts and payloads reported to callers.
func (r LoopResult) Summary() model.RunSummary {
	s := model.RunSummary{
		SignalsObserved:  len(r.Observation.Signals),
		PatternsDetected: len(r.Observation.PatternsDetected),
		AnomaliesFound:   len(r.Observation.Anomalies),
		IssuesAnalyzed:   len(r.Reasoning),
		DurationMS:       r.Duration.Milliseconds(),
		Timestamp:        r.Timestamp,
		Observation:      r.Observation,
		Reasoning:        nonNil(r.Reasoning),
		Decisions:        nonNil(r.Decisions),
		Executions:       nonNil(r.Executions),
	}
	for _, d := range r.Decisions {
		s.ActionsRecommended += len(d.RecommendedActions)
	}
	for _, e := range r.Executions {
		switch {
		case e.PendingApproval():
			s.ActionsPending++
		case e.Success:
			s.ActionsExecuted++
		}
	}
	return s
}

// RunOnce runs a full cycle. An empty observation ends the cycle before
// reasoning. Errors are logged and returned with whatever the cycle
// produced so far.
func (a *Agent) RunOnce(ctx context.Context) (LoopResult, error) {
	if !a.memory.TryBeginProcessing() {
		return LoopResult{}, ErrCycleInProgress
	}
	defer a.memory.EndProcessing()

	ctx, span := tracer.Start(ctx, "agent.run_once")
	defer span.End()

	start := a.now()
	res, err := a.cycle(ctx)
	res.Timestamp = start
	res.Duration = a.now().Sub(start)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Observation.Empty():
		outcome = "empty"
	}
	a.cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("result", outcome)))
	a.duration.Record(ctx, float64(res.Duration.Microseconds())/1000)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Error("agent: cycle failed", "error", err, "duration_ms", res.Duration.Milliseconds())
		return res, err
	}

	summary := res.Summary()
	span.SetAttributes(
		attribute.Int("signals", summary.SignalsObserved),
		attribute.Int("actions", summary.ActionsRecommended),
	)
	a.snapshot(ctx, summary)
	a.logger.Info("agent cycle complete",
		"signal_count", summary.SignalsObserved,
		"pattern_count", summary.PatternsDetected,
		"anomaly_count", summary.AnomaliesFound,
		"issues_analyzed", summary.IssuesAnalyzed,
		"actions_recommended", summary.ActionsRecommended,
		"actions_executed", summary.ActionsExecuted,
		"actions_pending", summary.ActionsPending,
		"duration_ms", summary.DurationMS,
	)
	return res, nil
}

func (a *Agent) cycle(ctx context.Context) (LoopResult, error) {
	var res LoopResult

	obsCtx, span := tracer.Start(ctx, "observe")
	obs, err := a.observer.Observe(obsCtx)
	span.End()
	if err != nil {
		return res, fmt.Errorf("agent: observe: %w", err)
	}
	res.Observation = obs
	for t, n := range countByType(obs.Signals) {
		a.signals.Add(ctx, int64(n), metric.WithAttributes(attribute.String("type", string(t))))
	}
	if obs.Empty() {
		a.logger.Debug("agent: nothing observed")
		return res, nil
	}

	reasonCtx, span := tracer.Start(ctx, "reason")
	results, outcome := a.reasoner.Reason(reasonCtx, obs)
	span.SetAttributes(attribute.Int("failed_clusters", outcome.FailedClusters))
	span.End()
	res.Reasoning = results
	res.ReasoningPersistErr = outcome.PersistErr
	if outcome.PersistErr != nil {
		a.logger.Warn("agent: reasoning logs not persisted", "error", outcome.PersistErr)
	}

	_, span = tracer.Start(ctx, "decide")
	res.Decisions = a.decider.Decide(results)
	span.End()

	actCtx, span := tracer.Start(ctx, "act")
	defer span.End()
	for i, d := range res.Decisions {
		var ec actor.ExecContext
		if i < len(results) {
			ec.MerchantIDs = results[i].AffectedScope.Merchants
		}
		execs, err := a.actor.Execute(actCtx, d, ec)
		res.Executions = append(res.Executions, execs...)
		if id := actor.CreatedIncident(execs); id != nil && i < len(res.Reasoning) {
			res.Reasoning[i].IncidentID = id
		}
		if err != nil {
			span.RecordError(err)
			return res, fmt.Errorf("agent: act: %w", err)
		}
	}
	return res, nil
}

// snapshot persists the run counts. Failure is logged only.
func (a *Agent) snapshot(ctx context.Context, s model.RunSummary) {
	if a.state == nil {
		return
	}
	err := a.state.PersistState(ctx, LastRunKey, map[string]any{
		"timestamp":           s.Timestamp.Format(time.RFC3339),
		"signals_observed":    s.SignalsObserved,
		"patterns_detected":   s.PatternsDetected,
		"anomalies_found":     s.AnomaliesFound,
		"issues_analyzed":     s.IssuesAnalyzed,
		"actions_recommended": s.ActionsRecommended,
		"actions_executed":    s.ActionsExecuted,
		"actions_pending":     s.ActionsPending,
		"duration_ms":         s.DurationMS,
	}, lastRunTTL)
	if err != nil {
		a.logger.Warn("agent: last-run snapshot not persisted", "error", err)
	}
}

// Start runs one cycle right away and then one every interval until Stop.
// A tick that fires while a cycle is still running is skipped. Cycles run
// with ctx.
func (a *Agent) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("agent: start: interval must be positive, got %s", interval)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cron != nil {
		return ErrAlreadyStarted
	}

	logger := cronLogger{a.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc("@every "+interval.String(), func() { a.tick(ctx) }); err != nil {
		return fmt.Errorf("agent: schedule loop: %w", err)
	}
	a.cron = c

	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		a.tick(ctx)
	}()
	c.Start()
	a.logger.Info("agent loop started", "interval", interval.String())
	return nil
}

func (a *Agent) tick(ctx context.Context) {
	if a.memory.IsProcessing() {
		a.logger.Debug("agent: tick skipped, cycle in progress")
		return
	}
	if _, err := a.RunOnce(ctx); errors.Is(err, ErrCycleInProgress) {
		a.logger.Debug("agent: tick skipped, cycle in progress")
	}
}

// Stop halts the loop and waits for a running cycle to finish. It is a
// no-op when the loop is not running.
func (a *Agent) Stop() {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	a.pending.Wait()
	a.logger.Info("agent loop stopped")
}

// Running reports whether the loop is scheduled.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cron != nil
}

// Status reports the loop state and memory stats.
func (a *Agent) Status() model.AgentStatus {
	return model.AgentStatus{
		IsRunning:  a.Running(),
		AgentStats: a.memory.Stats(),
	}
}

func countByType(signals []model.Signal) map[model.SignalType]int {
	out := make(map[model.SignalType]int)
	for _, s := range signals {
		out[s.Type]++
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
