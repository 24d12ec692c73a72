// Package mockdata seeds the signal tables with realistic merchant traffic
// for demos and local testing.
package mockdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mamori/internal/model"
)

// ErrNoMerchants is returned when an operation needs merchants and none exist.
var ErrNoMerchants = errors.New("mockdata: no merchants found, generate mock data first")

// Default counts for Generate.
const (
	DefaultMerchants        = 8
	DefaultTickets          = 15
	DefaultAPIErrors        = 20
	DefaultWebhookFailures  = 10
	DefaultCheckoutFailures = 12
)

// Crisis shape: the first crisisAffected of up to crisisScan merchants each
// get a burst on the checkout endpoint.
const (
	crisisScan        = 5
	crisisAffected    = 3
	crisisAPIErrors   = 5
	crisisCheckouts   = 3
	crisisEndpoint    = "/api/v2/checkout/create"
	crisisErrorCode   = "gateway_timeout"
	crisisFailureText = "Payment processor connection timeout"
)

// Store is the write side the generator needs. *storage.DB satisfies it.
type Store interface {
	InsertMerchant(ctx context.Context, m model.Merchant) (uuid.UUID, error)
	ListMerchantIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
	InsertTicket(ctx context.Context, t model.SupportTicket) error
	InsertAPILog(ctx context.Context, l model.APILog) error
	InsertWebhookLog(ctx context.Context, w model.WebhookLog) error
	InsertCheckoutSession(ctx context.Context, c model.CheckoutSession) error
	ClearAll(ctx context.Context) error
}

// Counts selects how many rows Generate writes. Zero fields use the defaults.
type Counts struct {
	Merchants        int
	Tickets          int
	APIErrors        int
	WebhookFailures  int
	CheckoutFailures int
}

func (c Counts) withDefaults() Counts {
	def := func(v, d int) int {
		if v <= 0 {
			return d
		}
		return v
	}
	return Counts{
		Merchants:        min(def(c.Merchants, DefaultMerchants), len(merchantTemplates)),
		Tickets:          def(c.Tickets, DefaultTickets),
		APIErrors:        def(c.APIErrors, DefaultAPIErrors),
		WebhookFailures:  def(c.WebhookFailures, DefaultWebhookFailures),
		CheckoutFailures: def(c.CheckoutFailures, DefaultCheckoutFailures),
	}
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand sets the random source. Tests pass a seeded one.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.rng = r }
}

// WithClock sets the time source used for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// Generator writes mock rows.
type Generator struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Generator over store.
func New(store Store, logger *slog.Logger, opts ...Option) *Generator {
	g := &Generator{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func pick[T any](g *Generator, items []T) T {
	return items[g.rng.IntN(len(items))]
}

// ago returns a random time within the last hours.
func (g *Generator) ago(hours float64) time.Time {
	offset := time.Duration(g.rng.Float64() * hours * float64(time.Hour))
	return g.now().Add(-offset)
}

// Generate creates merchants and a spread of tickets, API errors, webhook
// failures and checkout failures. Merchants that already exist are skipped
// and the existing rows are used instead.
func (g *Generator) Generate(ctx context.Context, counts Counts) (model.MockDataResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := counts.withDefaults()

	var merchants []uuid.UUID
	for _, tmpl := range merchantTemplates[:c.Merchants] {
		m := tmpl
		m.APIKeyConfigured = g.rng.Float64() > 0.3
		m.WebhookConfigured = g.rng.Float64() > 0.4
		m.StripeConnected = g.rng.Float64() > 0.2
		id, err := g.store.InsertMerchant(ctx, m)
		if err != nil {
			g.logger.Warn("mockdata: merchant not created", "store_slug", m.StoreSlug, "error", err)
			continue
		}
		merchants = append(merchants, id)
	}
	if len(merchants) == 0 {
		existing, err := g.store.ListMerchantIDs(ctx, c.Merchants)
		if err != nil {
			return model.MockDataResult{}, fmt.Errorf("mockdata: list merchants: %w", err)
		}
		merchants = existing
	}
	if len(merchants) == 0 {
		return model.MockDataResult{}, ErrNoMerchants
	}

	res := model.MockDataResult{Message: "Mock data generated", Merchants: make([]string, len(merchants))}
	for i, id := range merchants {
		res.Merchants[i] = id.String()
	}

	for range c.Tickets {
		tmpl := pick(g, ticketTemplates)
		merchant := pick(g, merchants)
		category := tmpl.category
		err := g.store.InsertTicket(ctx, model.SupportTicket{
			MerchantID: &merchant,
			Subject:    tmpl.subject,
			Body:       tmpl.body,
			Category:   &category,
			Priority:   tmpl.priority,
			Status:     pick(g, ticketStatuses),
			Source:     pick(g, ticketSources),
			CreatedAt:  g.ago(24),
		})
		if err != nil {
			return res, fmt.Errorf("mockdata: insert ticket: %w", err)
		}
		res.Tickets++
	}

	for range c.APIErrors {
		tmpl := pick(g, apiErrorTemplates)
		status, msg, duration := tmpl.status, tmpl.message, g.rng.IntN(5000)+100
		err := g.store.InsertAPILog(ctx, model.APILog{
			MerchantID:   pick(g, merchants),
			Endpoint:     tmpl.endpoint,
			Method:       tmpl.method,
			StatusCode:   &status,
			ErrorMessage: &msg,
			DurationMS:   &duration,
			CreatedAt:    g.ago(2),
		})
		if err != nil {
			return res, fmt.Errorf("mockdata: insert api log: %w", err)
		}
		res.APIErrors++
	}

	for range c.WebhookFailures {
		tmpl := pick(g, webhookTemplates)
		lastErr := tmpl.lastError
		err := g.store.InsertWebhookLog(ctx, model.WebhookLog{
			MerchantID:     pick(g, merchants),
			EventType:      tmpl.event,
			Payload:        map[string]any{"order_id": "order_" + strconv.FormatUint(g.rng.Uint64()%(1<<40), 36)},
			DeliveryStatus: model.DeliveryFailed,
			RetryCount:     g.rng.IntN(5) + 1,
			LastError:      &lastErr,
			CreatedAt:      g.ago(4),
		})
		if err != nil {
			return res, fmt.Errorf("mockdata: insert webhook log: %w", err)
		}
		res.WebhookFailures++
	}

	for i := range c.CheckoutFailures {
		tmpl := pick(g, checkoutTemplates)
		email, reason, code := fmt.Sprintf("customer%d@example.com", i), tmpl.reason, tmpl.code
		err := g.store.InsertCheckoutSession(ctx, model.CheckoutSession{
			MerchantID:    pick(g, merchants),
			CustomerEmail: &email,
			CartTotal:     float64(g.rng.IntN(500) + 20),
			Status:        model.CheckoutFailed,
			FailureReason: &reason,
			ErrorCode:     &code,
			CreatedAt:     g.ago(6),
		})
		if err != nil {
			return res, fmt.Errorf("mockdata: insert checkout session: %w", err)
		}
		res.CheckoutFailures++
	}

	g.logger.Info("mock data generated",
		"merchants", len(res.Merchants),
		"tickets", res.Tickets,
		"api_errors", res.APIErrors,
		"webhook_failures", res.WebhookFailures,
		"checkout_failures", res.CheckoutFailures,
	)
	return res, nil
}

// Clear deletes all source and agent rows.
func (g *Generator) Clear(ctx context.Context) (model.MockDataResult, error) {
	if err := g.store.ClearAll(ctx); err != nil {
		return model.MockDataResult{}, fmt.Errorf("mockdata: clear: %w", err)
	}
	g.logger.Info("mock data cleared")
	return model.MockDataResult{Message: "Mock data cleared"}, nil
}

// Crisis simulates a checkout outage: a burst of API 500s on the checkout
// endpoint, gateway timeouts and an urgent ticket for each affected merchant.
func (g *Generator) Crisis(ctx context.Context) (model.MockDataResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids, err := g.store.ListMerchantIDs(ctx, crisisScan)
	if err != nil {
		return model.MockDataResult{}, fmt.Errorf("mockdata: list merchants: %w", err)
	}
	if len(ids) == 0 {
		return model.MockDataResult{}, ErrNoMerchants
	}
	affected := ids[:min(crisisAffected, len(ids))]

	res := model.MockDataResult{Message: "Migration crisis simulated", AffectedMerchants: len(affected)}
	for _, merchant := range affected {
		res.Merchants = append(res.Merchants, merchant.String())

		for range crisisAPIErrors {
			status, msg, duration := 500, "Internal server error: payment processor unreachable", 30000
			if err := g.store.InsertAPILog(ctx, model.APILog{
				MerchantID:   merchant,
				Endpoint:     crisisEndpoint,
				Method:       "POST",
				StatusCode:   &status,
				ErrorMessage: &msg,
				DurationMS:   &duration,
				CreatedAt:    g.ago(0.5),
			}); err != nil {
				return res, fmt.Errorf("mockdata: insert api log: %w", err)
			}
			res.APIErrors++
		}

		for i := range crisisCheckouts {
			email, reason, code := fmt.Sprintf("crisis_customer%d@example.com", i), crisisFailureText, crisisErrorCode
			if err := g.store.InsertCheckoutSession(ctx, model.CheckoutSession{
				MerchantID:    merchant,
				CustomerEmail: &email,
				CartTotal:     float64(g.rng.IntN(200) + 50),
				Status:        model.CheckoutFailed,
				FailureReason: &reason,
				ErrorCode:     &code,
				CreatedAt:     g.ago(0.25),
			}); err != nil {
				return res, fmt.Errorf("mockdata: insert checkout session: %w", err)
			}
			res.CheckoutFailures++
		}

		m, category := merchant, "checkout"
		if err := g.store.InsertTicket(ctx, model.SupportTicket{
			MerchantID: &m,
			Subject:    "URGENT: All checkouts failing since 10 minutes ago",
			Body:       "Our checkout has completely stopped working. Every customer is getting an error. This is costing us thousands in lost sales. Please help immediately!",
			Category:   &category,
			Priority:   model.PriorityUrgent,
			Status:     model.TicketOpen,
			Source:     "chat",
			CreatedAt:  g.now(),
		}); err != nil {
			return res, fmt.Errorf("mockdata: insert ticket: %w", err)
		}
		res.Tickets++
	}

	g.logger.Warn("migration crisis simulated", "affected_merchants", len(affected))
	return res, nil
}
