package reasoner

import (
	"fmt"
	"slices"

	"github.com/ashita-ai/mamori/internal/model"
)

// Cluster is a group of related signals analyzed together. Pattern is the
// detected pattern the cluster was built from, nil for the residual cluster.
type Cluster struct {
	ID      string
	Signals []model.Signal
	Types   []model.SignalType
	Pattern *model.Pattern
}

// patternRank orders pattern clusters widest first so a platform-wide
// pattern claims its signals before a single-merchant pattern does.
var patternRank = map[string]int{
	model.PatternEndpointWidespreadFailure: 0,
	model.PatternCheckoutFailureSpike:      1,
	model.PatternRepeatedMerchantErrors:    2,
}

// clusterSignals forms one cluster per pattern with matching signals, then a
// residual cluster of leftover error and critical signals. Every signal
// lands in at most one cluster.
func clusterSignals(signals []model.Signal, patterns []model.Pattern) []Cluster {
	ordered := slices.Clone(patterns)
	slices.SortStableFunc(ordered, func(a, b model.Pattern) int {
		return rank(a) - rank(b)
	})

	claimed := make(map[string]bool, len(signals))
	var clusters []Cluster
	for i := range ordered {
		p := ordered[i]
		match := matcher(p.Signature)
		if match == nil {
			continue
		}
		var members []model.Signal
		for _, s := range signals {
			if !claimed[s.ID] && match(s) {
				members = append(members, s)
			}
		}
		if len(members) == 0 {
			continue
		}
		for _, s := range members {
			claimed[s.ID] = true
		}
		clusters = append(clusters, Cluster{
			ID:      p.ID,
			Signals: members,
			Types:   signalTypes(members),
			Pattern: &p,
		})
	}

	var residual []model.Signal
	for _, s := range signals {
		if !claimed[s.ID] && s.Severity.IsErrorOrWorse() {
			residual = append(residual, s)
		}
	}
	if len(residual) > 0 {
		clusters = append(clusters, Cluster{
			ID:      fmt.Sprintf("cluster-%d", len(clusters)+1),
			Signals: residual,
			Types:   signalTypes(residual),
		})
	}
	return clusters
}

func rank(p model.Pattern) int {
	if r, ok := patternRank[p.PatternType]; ok {
		return r
	}
	return len(patternRank)
}

// matcher selects signals by whichever field the signature carries:
// merchant_id, endpoint or affected_merchants, in that order.
func matcher(sig map[string]any) func(model.Signal) bool {
	if m, ok := sig["merchant_id"].(string); ok && m != "" {
		return func(s model.Signal) bool { return s.Merchant() == m }
	}
	if ep, ok := sig["endpoint"].(string); ok && ep != "" {
		return func(s model.Signal) bool { return s.DataString("endpoint") == ep }
	}
	if merchants := StringList(sig["affected_merchants"]); len(merchants) > 0 {
		return func(s model.Signal) bool {
			m := s.Merchant()
			return m != "" && slices.Contains(merchants, m)
		}
	}
	return nil
}

// StringList reads a signature list that may be []string in process or
// []any after a JSON round trip.
func StringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func signalTypes(signals []model.Signal) []model.SignalType {
	var out []model.SignalType
	for _, s := range signals {
		if !slices.Contains(out, s.Type) {
			out = append(out, s.Type)
		}
	}
	return out
}

func (c Cluster) hasType(t model.SignalType) bool {
	return slices.Contains(c.Types, t)
}

// merchants returns the distinct non-empty merchant ids in first-seen order.
func (c Cluster) merchants() []string {
	out := []string{}
	for _, s := range c.Signals {
		if m := s.Merchant(); m != "" && !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}
