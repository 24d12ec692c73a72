// Package reasoner implements the reason phase: it clusters the signals of
// an observation and classifies each cluster into a root-cause hypothesis
// with an evidence chain and an ordered reasoning log.
package reasoner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mamori/internal/agent/state"
	"github.com/ashita-ai/mamori/internal/model"
)

// LogWriter persists reasoning logs. *storage.DB satisfies it.
type LogWriter interface {
	InsertReasoningLogs(ctx context.Context, logs []model.ReasoningLog) error
}

// Outcome reports side results of a Reason call that do not fail it.
type Outcome struct {
	// PersistErr is the error from writing the reasoning log batch, if any.
	PersistErr error
	// FailedClusters counts clusters whose classification failed.
	FailedClusters int
}

// Reasoner turns observations into classified reasoning results.
type Reasoner struct {
	classifier Classifier
	logs       LogWriter
	memory     *state.Memory
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Reasoner. A nil classifier uses RuleClassifier; logs and
// memory may be nil.
func New(classifier Classifier, logs LogWriter, memory *state.Memory, logger *slog.Logger) *Reasoner {
	if classifier == nil {
		classifier = RuleClassifier{}
	}
	return &Reasoner{
		classifier: classifier,
		logs:       logs,
		memory:     memory,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Reason classifies every cluster in obs. It returns no results and writes
// no logs when the observation has no signals and no anomalies. A failing
// cluster is recorded as a failed step and skipped.
func (r *Reasoner) Reason(ctx context.Context, obs model.Observation) ([]model.ReasoningResult, Outcome) {
	var out Outcome
	if obs.Empty() {
		return []model.ReasoningResult{}, out
	}

	var steps []model.ReasoningLog
	step := func(l model.ReasoningLog) {
		l.ID = uuid.New()
		l.StepNumber = len(steps) + 1
		l.Phase = model.PhaseReason
		l.CreatedAt = r.now()
		steps = append(steps, l)
	}

	step(model.ReasoningLog{
		Thought: fmt.Sprintf("Analyzing %d signals and %d patterns", len(obs.Signals), len(obs.PatternsDetected)),
		Evidence: map[string]any{
			"signal_count":  len(obs.Signals),
			"pattern_count": len(obs.PatternsDetected),
		},
	})

	clusters := clusterSignals(obs.Signals, obs.PatternsDetected)
	summary := make([]map[string]any, 0, len(clusters))
	for _, c := range clusters {
		summary = append(summary, map[string]any{"id": c.ID, "size": len(c.Signals), "types": c.Types})
	}
	step(model.ReasoningLog{
		Thought:  fmt.Sprintf("Identified %d distinct issue clusters", len(clusters)),
		Evidence: map[string]any{"clusters": summary},
	})

	results := make([]model.ReasoningResult, 0, len(clusters))
	modelName := r.classifier.Name()
	for _, c := range clusters {
		start := time.Now()
		analysis, err := r.classifier.Classify(ctx, c)
		elapsed := time.Since(start).Milliseconds()
		if err != nil {
			out.FailedClusters++
			r.logger.Warn("reasoner: cluster analysis failed", "cluster_id", c.ID, "error", err)
			step(model.ReasoningLog{
				Thought:    "Error analyzing cluster: " + err.Error(),
				Evidence:   map[string]any{"cluster_id": c.ID, "error": err.Error()},
				Conclusion: ptr("Analysis failed"),
				Confidence: ptr(0.0),
				DurationMS: &elapsed,
			})
			continue
		}

		entry := model.ReasoningLog{
			Thought: fmt.Sprintf("Analyzed cluster: %s", analysis.Classification),
			Evidence: map[string]any{
				"cluster_id":     c.ID,
				"cluster_size":   len(c.Signals),
				"classification": analysis.Classification,
				"confidence":     analysis.Confidence,
			},
			Conclusion: ptr(analysis.RootCauseHypothesis),
			Confidence: ptr(analysis.Confidence),
			ModelUsed:  ptr(modelName),
			DurationMS: &elapsed,
		}
		if analysis.TokensUsed > 0 {
			entry.TokensUsed = ptr(analysis.TokensUsed)
		}
		step(entry)

		evidence := make([]model.Evidence, 0, len(c.Signals))
		for _, s := range c.Signals {
			evidence = append(evidence, model.EvidenceFromSignal(s))
		}
		features := analysis.AffectedFeatures
		if features == nil {
			features = []string{}
		}
		results = append(results, model.ReasoningResult{
			Classification:      analysis.Classification,
			RootCauseHypothesis: analysis.RootCauseHypothesis,
			Confidence:          analysis.Confidence,
			EvidenceChain:       evidence,
			AffectedScope: model.AffectedScope{
				Merchants:       c.merchants(),
				Features:        features,
				EstimatedImpact: analysis.ImpactAssessment,
			},
			ReasoningSteps: append([]model.ReasoningLog(nil), steps...),
		})
	}

	if r.logs != nil {
		if err := r.logs.InsertReasoningLogs(ctx, steps); err != nil {
			out.PersistErr = err
			r.logger.Warn("reasoner: persist reasoning logs failed", "steps", len(steps), "error", err)
		}
	}
	if r.memory != nil {
		r.memory.SetReasoning(results)
	}

	r.logger.Info("reasoning complete",
		"clusters", len(clusters),
		"results", len(results),
		"failed_clusters", out.FailedClusters,
	)
	return results, out
}

func ptr[T any](v T) *T { return &v }
