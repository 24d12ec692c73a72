package observer

import (
	"fmt"

	"github.com/ashita-ai/mamori/internal/model"
)

func ticketSeverity(priority string) model.Severity {
	switch priority {
	case model.PriorityUrgent:
		return model.SeverityCritical
	case model.PriorityHigh:
		return model.SeverityError
	case model.PriorityMedium:
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

func statusSeverity(code *int) model.Severity {
	switch {
	case code == nil || *code == 0:
		return model.SeverityWarning
	case *code >= 500:
		return model.SeverityCritical
	case *code >= 400:
		return model.SeverityError
	default:
		return model.SeverityWarning
	}
}

func webhookSeverity(retries int) model.Severity {
	if retries >= 3 {
		return model.SeverityError
	}
	return model.SeverityWarning
}

func ticketSignal(t model.SupportTicket) model.Signal {
	category := "unknown"
	if t.Category != nil && *t.Category != "" {
		category = *t.Category
	}
	var merchant *string
	if t.MerchantID != nil {
		m := t.MerchantID.String()
		merchant = &m
	}
	return model.Signal{
		ID:         t.ID.String(),
		Type:       model.SignalTicket,
		Source:     SourceTickets,
		MerchantID: merchant,
		Severity:   ticketSeverity(t.Priority),
		Message:    fmt.Sprintf("[%s] %s", category, t.Subject),
		Data: map[string]any{
			"subject":  t.Subject,
			"body":     t.Body,
			"category": deref(t.Category),
			"priority": t.Priority,
			"status":   t.Status,
			"source":   t.Source,
		},
		Timestamp: t.CreatedAt,
	}
}

func apiErrorSignal(l model.APILog) model.Signal {
	merchant := l.MerchantID.String()
	code := 0
	if l.StatusCode != nil {
		code = *l.StatusCode
	}
	return model.Signal{
		ID:         l.ID.String(),
		Type:       model.SignalAPIError,
		Source:     SourceAPILogs,
		MerchantID: &merchant,
		Severity:   statusSeverity(l.StatusCode),
		Message:    fmt.Sprintf("%s %s returned %d", l.Method, l.Endpoint, code),
		Data: map[string]any{
			"endpoint":      l.Endpoint,
			"method":        l.Method,
			"status_code":   derefInt(l.StatusCode),
			"error_message": deref(l.ErrorMessage),
			"duration_ms":   derefInt(l.DurationMS),
		},
		Timestamp: l.CreatedAt,
	}
}

func webhookSignal(w model.WebhookLog) model.Signal {
	merchant := w.MerchantID.String()
	return model.Signal{
		ID:         w.ID.String(),
		Type:       model.SignalWebhookFailure,
		Source:     SourceWebhooks,
		MerchantID: &merchant,
		Severity:   webhookSeverity(w.RetryCount),
		Message:    fmt.Sprintf("Webhook %s failed (%d retries)", w.EventType, w.RetryCount),
		Data: map[string]any{
			"event_type":  w.EventType,
			"retry_count": w.RetryCount,
			"last_error":  deref(w.LastError),
		},
		Timestamp: w.CreatedAt,
	}
}

func checkoutSignal(c model.CheckoutSession) model.Signal {
	merchant := c.MerchantID.String()
	reason := "Unknown error"
	if c.FailureReason != nil && *c.FailureReason != "" {
		reason = *c.FailureReason
	}
	return model.Signal{
		ID:         c.ID.String(),
		Type:       model.SignalCheckoutFailure,
		Source:     SourceCheckouts,
		MerchantID: &merchant,
		Severity:   model.SeverityError,
		Message:    "Checkout failed: " + reason,
		Data: map[string]any{
			"cart_total":     c.CartTotal,
			"failure_reason": deref(c.FailureReason),
			"error_code":     deref(c.ErrorCode),
			"customer_email": deref(c.CustomerEmail),
		},
		Timestamp: c.CreatedAt,
	}
}

// deref returns the string or nil so absent values serialize as JSON null.
func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func derefInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
