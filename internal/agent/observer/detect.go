package observer

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/mamori/internal/model"
)

const (
	merchantPatternMin  = 3
	endpointMerchantMin = 2
	checkoutSpikeMin    = 5
	errorVolumeMin      = 10
	widespreadMin       = 5
)

// groupBy buckets signals by key, preserving first-seen key order. Empty
// keys are skipped.
func groupBy(signals []model.Signal, key func(model.Signal) string) ([]string, map[string][]model.Signal) {
	var order []string
	groups := make(map[string][]model.Signal)
	for _, s := range signals {
		k := key(s)
		if k == "" {
			continue
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], s)
	}
	return order, groups
}

// unique returns the distinct non-empty values in first-seen order.
func unique[T comparable](signals []model.Signal, f func(model.Signal) T) []T {
	var zero T
	seen := make(map[T]bool)
	out := []T{}
	for _, s := range signals {
		v := f(s)
		if v == zero || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func merchantOf(s model.Signal) string { return s.Merchant() }

func detectPatterns(signals []model.Signal, windowMinutes int, now time.Time) []model.Pattern {
	var patterns []model.Pattern

	merchants, byMerchant := groupBy(signals, merchantOf)
	for _, m := range merchants {
		group := byMerchant[m]
		if len(group) < merchantPatternMin {
			continue
		}
		var errs []model.Signal
		for _, s := range group {
			if s.Severity.IsErrorOrWorse() {
				errs = append(errs, s)
			}
		}
		if len(errs) < merchantPatternMin {
			continue
		}
		patterns = append(patterns, model.Pattern{
			ID:          "pattern-merchant-" + m,
			PatternType: model.PatternRepeatedMerchantErrors,
			Signature: map[string]any{
				"merchant_id": m,
				"error_count": len(errs),
				"error_types": unique(errs, func(s model.Signal) string { return string(s.Type) }),
			},
			Description: fmt.Sprintf("Merchant %s has %d errors in the last %d minutes", m, len(errs), windowMinutes),
			Occurrences: 1,
			LastSeenAt:  now,
			Active:      true,
			CreatedAt:   now,
		})
	}

	var apiErrs []model.Signal
	var checkouts []model.Signal
	for _, s := range signals {
		switch s.Type {
		case model.SignalAPIError:
			apiErrs = append(apiErrs, s)
		case model.SignalCheckoutFailure:
			checkouts = append(checkouts, s)
		}
	}

	endpoints, byEndpoint := groupBy(apiErrs, func(s model.Signal) string { return s.DataString("endpoint") })
	for _, ep := range endpoints {
		group := byEndpoint[ep]
		affected := unique(group, merchantOf)
		if len(affected) < endpointMerchantMin {
			continue
		}
		cause := model.IncidentPlatformRegression
		confidence := 0.7
		patterns = append(patterns, model.Pattern{
			ID:          "pattern-endpoint-" + ep,
			PatternType: model.PatternEndpointWidespreadFailure,
			Signature: map[string]any{
				"endpoint":           ep,
				"affected_merchants": affected,
				"failure_count":      len(group),
			},
			Description:         fmt.Sprintf("Endpoint %s is failing for %d merchants", ep, len(affected)),
			Occurrences:         1,
			LastSeenAt:          now,
			AssociatedRootCause: &cause,
			Confidence:          &confidence,
			Active:              true,
			CreatedAt:           now,
		})
	}

	if len(checkouts) >= checkoutSpikeMin {
		affected := unique(checkouts, merchantOf)
		patterns = append(patterns, model.Pattern{
			ID:          "pattern-checkout-spike",
			PatternType: model.PatternCheckoutFailureSpike,
			Signature: map[string]any{
				"failure_count":      len(checkouts),
				"affected_merchants": affected,
				"error_codes":        unique(checkouts, func(s model.Signal) string { return s.DataString("error_code") }),
			},
			Description: fmt.Sprintf("Checkout failure spike: %d failures across %d merchants", len(checkouts), len(affected)),
			Occurrences: 1,
			LastSeenAt:  now,
			Active:      true,
			CreatedAt:   now,
		})
	}

	return patterns
}

func detectAnomalies(signals []model.Signal, windowMinutes int) []model.Anomaly {
	var anomalies []model.Anomaly
	var critical, errs []model.Signal
	for _, s := range signals {
		switch s.Severity {
		case model.SeverityCritical:
			critical = append(critical, s)
		case model.SeverityError:
			errs = append(errs, s)
		}
	}

	if len(critical) > 0 {
		anomalies = append(anomalies, model.Anomaly{
			Type:              model.AnomalyCriticalErrors,
			Description:       fmt.Sprintf("%d critical errors detected", len(critical)),
			AffectedMerchants: unique(critical, merchantOf),
			Severity:          model.IncidentSeverityCritical,
		})
	}

	if len(errs) >= errorVolumeMin {
		anomalies = append(anomalies, model.Anomaly{
			Type:              model.AnomalyErrorVolumeSpike,
			Description:       fmt.Sprintf("Unusually high error volume: %d errors in %d minutes", len(errs), windowMinutes),
			AffectedMerchants: unique(errs, merchantOf),
			Severity:          model.IncidentSeverityHigh,
		})
	}

	if all := unique(signals, merchantOf); len(all) >= widespreadMin {
		anomalies = append(anomalies, model.Anomaly{
			Type:              model.AnomalyWidespreadImpact,
			Description:       fmt.Sprintf("Issues affecting %d merchants simultaneously", len(all)),
			AffectedMerchants: all,
			Severity:          model.IncidentSeverityHigh,
		})
	}

	return anomalies
}

func summarize(signals []model.Signal, patterns []model.Pattern, anomalies []model.Anomaly) string {
	if len(signals) == 0 {
		return "No new signals detected in the observation window."
	}

	types, byType := groupBy(signals, func(s model.Signal) string { return string(s.Type) })
	counts := make([]string, 0, len(types))
	for _, t := range types {
		counts = append(counts, fmt.Sprintf("%d %ss", len(byType[t]), strings.Replace(t, "_", " ", 1)))
	}

	parts := []string{fmt.Sprintf("Observed %d signals (%s)", len(signals), strings.Join(counts, ", "))}
	if len(patterns) > 0 {
		parts = append(parts, fmt.Sprintf("Detected %d pattern(s)", len(patterns)))
	}
	critical := 0
	for _, a := range anomalies {
		if a.Severity == model.IncidentSeverityCritical {
			critical++
		}
	}
	if critical > 0 {
		parts = append(parts, fmt.Sprintf("%d critical anomaly(ies) require attention", critical))
	}
	return strings.Join(parts, ". ") + "."
}
