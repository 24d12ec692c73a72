// Package agenttest provides an in-memory Store that stands in for
// *storage.DB in agent, server and MCP tests.
package agenttest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mamori/internal/model"
	"github.com/ashita-ai/mamori/internal/storage"
)

// Store is a goroutine-safe in-memory implementation of the storage methods
// the agent uses. It returns the storage package's sentinel errors so callers
// exercise the same branches as against Postgres.
type Store struct {
	mu sync.Mutex

	Merchants []model.Merchant
	Tickets   []model.SupportTicket
	APILogs   []model.APILog
	Webhooks  []model.WebhookLog
	Checkouts []model.CheckoutSession

	Actions       map[uuid.UUID]model.AgentAction
	Incidents     map[uuid.UUID]model.Incident
	State         map[string]model.StateEntry
	Patterns      map[uuid.UUID]model.StoredPattern
	ReasoningLogs []model.ReasoningLog

	// Fail makes the named method return the error. Keys are method names,
	// e.g. "RecentAPIErrors" or "CreateAction".
	Fail map[string]error

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		Actions:   map[uuid.UUID]model.AgentAction{},
		Incidents: map[uuid.UUID]model.Incident{},
		State:     map[string]model.StateEntry{},
		Patterns:  map[uuid.UUID]model.StoredPattern{},
		Fail:      map[string]error{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock used for timestamps and window filtering.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// FailOn makes method return err until cleared with FailOn(method, nil).
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.Fail, method)
		return
	}
	s.Fail[method] = err
}

func (s *Store) failed(method string) error {
	return s.Fail[method]
}

// Ping always succeeds unless "Ping" is set to fail.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed("Ping")
}

// --- signal sources ---

func newestFirst[T any](rows []T, createdAt func(T) time.Time, keep func(T) bool, limit int) []T {
	var out []T
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return createdAt(out[i]).After(createdAt(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) RecentTickets(_ context.Context, since time.Time, limit int) ([]model.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("RecentTickets"); err != nil {
		return nil, err
	}
	return newestFirst(s.Tickets, func(t model.SupportTicket) time.Time { return t.CreatedAt },
		func(t model.SupportTicket) bool { return !t.CreatedAt.Before(since) }, limit), nil
}

func (s *Store) RecentAPIErrors(_ context.Context, since time.Time, limit int) ([]model.APILog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("RecentAPIErrors"); err != nil {
		return nil, err
	}
	return newestFirst(s.APILogs, func(l model.APILog) time.Time { return l.CreatedAt },
		func(l model.APILog) bool {
			return !l.CreatedAt.Before(since) && l.StatusCode != nil && *l.StatusCode >= 400
		}, limit), nil
}

func (s *Store) RecentWebhookFailures(_ context.Context, since time.Time, limit int) ([]model.WebhookLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("RecentWebhookFailures"); err != nil {
		return nil, err
	}
	return newestFirst(s.Webhooks, func(w model.WebhookLog) time.Time { return w.CreatedAt },
		func(w model.WebhookLog) bool {
			return !w.CreatedAt.Before(since) && w.DeliveryStatus == model.DeliveryFailed
		}, limit), nil
}

func (s *Store) RecentCheckoutFailures(_ context.Context, since time.Time, limit int) ([]model.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("RecentCheckoutFailures"); err != nil {
		return nil, err
	}
	return newestFirst(s.Checkouts, func(c model.CheckoutSession) time.Time { return c.CreatedAt },
		func(c model.CheckoutSession) bool {
			return !c.CreatedAt.Before(since) && c.Status == model.CheckoutFailed
		}, limit), nil
}

// --- actions ---

func (s *Store) CreateAction(_ context.Context, a model.AgentAction) (model.AgentAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("CreateAction"); err != nil {
		return model.AgentAction{}, err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.Actions[a.ID] = a
	return a, nil
}

func (s *Store) GetAction(_ context.Context, id uuid.UUID) (model.AgentAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Actions[id]
	if !ok {
		return model.AgentAction{}, fmt.Errorf("agenttest: action %s: %w", id, storage.ErrNotFound)
	}
	return a, nil
}

func (s *Store) transitionMiss(id uuid.UUID) error {
	if _, ok := s.Actions[id]; !ok {
		return fmt.Errorf("agenttest: action %s: %w", id, storage.ErrNotFound)
	}
	return fmt.Errorf("agenttest: action %s: %w", id, storage.ErrStateConflict)
}

func (s *Store) ApproveAction(_ context.Context, id uuid.UUID, approvedBy string) (model.AgentAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Actions[id]
	if !ok || a.ApprovalStatus != model.ApprovalPending || a.Executed {
		return model.AgentAction{}, s.transitionMiss(id)
	}
	now := s.now()
	a.ApprovalStatus = model.ApprovalApproved
	a.ApprovedBy = &approvedBy
	a.ApprovedAt = &now
	s.Actions[id] = a
	return a, nil
}

func (s *Store) RejectAction(_ context.Context, id uuid.UUID, rejectedBy, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Actions[id]
	if !ok || a.Executed {
		return s.transitionMiss(id)
	}
	now := s.now()
	a.ApprovalStatus = model.ApprovalRejected
	a.ApprovedBy = &rejectedBy
	a.ApprovedAt = &now
	a.RejectionReason = &reason
	s.Actions[id] = a
	return nil
}

func (s *Store) RecordExecution(_ context.Context, id uuid.UUID, result model.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("RecordExecution"); err != nil {
		return err
	}
	a, ok := s.Actions[id]
	if !ok || a.Executed {
		return s.transitionMiss(id)
	}
	now := s.now()
	a.Executed = true
	a.ExecutedAt = &now
	a.ExecutionResult = &result
	s.Actions[id] = a
	return nil
}

func (s *Store) UpdateExecutionResult(_ context.Context, id uuid.UUID, result model.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Actions[id]
	if !ok || !a.Executed {
		return s.transitionMiss(id)
	}
	a.ExecutionResult = &result
	s.Actions[id] = a
	return nil
}

func (s *Store) LinkActionsToIncident(_ context.Context, incidentID uuid.UUID, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("LinkActionsToIncident"); err != nil {
		return err
	}
	for _, id := range ids {
		a, ok := s.Actions[id]
		if !ok || a.IncidentID != nil {
			continue
		}
		linked := incidentID
		a.IncidentID = &linked
		s.Actions[id] = a
	}
	return nil
}

func (s *Store) ListActions(_ context.Context, status model.ApprovalStatus, limit int) ([]model.ActionListItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("ListActions"); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	var out []model.ActionListItem
	for _, a := range s.Actions {
		if a.ApprovalStatus != status {
			continue
		}
		it := model.ActionListItem{AgentAction: a}
		if a.IncidentID != nil {
			if inc, ok := s.Incidents[*a.IncidentID]; ok {
				it.IncidentTitle = &inc.Title
				it.IncidentSeverity = &inc.Severity
				it.IncidentType = &inc.Type
			}
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ActionsByType returns stored actions of type t.
func (s *Store) ActionsByType(t model.ActionType) []model.AgentAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AgentAction
	for _, a := range s.Actions {
		if a.ActionType == t {
			out = append(out, a)
		}
	}
	return out
}

// --- tickets and incidents ---

func (s *Store) UpdateTicketAgentResponse(_ context.Context, id uuid.UUID, response string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Tickets {
		if s.Tickets[i].ID == id {
			s.Tickets[i].AgentResponse = &response
			s.Tickets[i].AgentConfidence = &confidence
			s.Tickets[i].Status = model.TicketInProgress
			return nil
		}
	}
	return fmt.Errorf("agenttest: ticket %s: %w", id, storage.ErrNotFound)
}

func (s *Store) CreateIncident(_ context.Context, inc model.Incident) (model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("CreateIncident"); err != nil {
		return model.Incident{}, err
	}
	now := s.now()
	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	inc.CreatedAt, inc.UpdatedAt = now, now
	if inc.Status == "" {
		inc.Status = model.IncidentDetected
	}
	if inc.AffectedMerchants == nil {
		inc.AffectedMerchants = []string{}
	}
	s.Incidents[inc.ID] = inc
	return inc, nil
}

func (s *Store) DeleteIncident(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Incidents[id]; !ok {
		return fmt.Errorf("agenttest: incident %s: %w", id, storage.ErrNotFound)
	}
	delete(s.Incidents, id)
	return nil
}

func (s *Store) UpdateIncidentStatus(_ context.Context, id uuid.UUID, status model.IncidentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.Incidents[id]
	if !ok {
		return fmt.Errorf("agenttest: incident %s: %w", id, storage.ErrNotFound)
	}
	now := s.now()
	inc.Status = status
	inc.UpdatedAt = now
	if status == model.IncidentResolved {
		inc.ResolvedAt = &now
	}
	s.Incidents[id] = inc
	return nil
}

// --- state and patterns ---

func (s *Store) UpsertState(_ context.Context, key string, value map[string]any, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("UpsertState"); err != nil {
		return err
	}
	s.State[key] = model.StateEntry{Key: key, Value: value, ExpiresAt: expiresAt, UpdatedAt: s.now()}
	return nil
}

func (s *Store) GetState(_ context.Context, key string) (model.StateEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.State[key]
	if !ok {
		return model.StateEntry{}, fmt.Errorf("agenttest: state %q: %w", key, storage.ErrNotFound)
	}
	return e, nil
}

func (s *Store) DeleteState(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.State, key)
	return nil
}

func (s *Store) InsertPattern(_ context.Context, p model.StoredPattern) (model.StoredPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("InsertPattern"); err != nil {
		return model.StoredPattern{}, err
	}
	now := s.now()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Occurrences = 1
	p.Active = true
	p.LastSeenAt, p.CreatedAt = now, now
	s.Patterns[p.ID] = p
	return p, nil
}

func (s *Store) FindPatterns(_ context.Context, patternType string, limit int) ([]model.StoredPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("FindPatterns"); err != nil {
		return nil, err
	}
	var out []model.StoredPattern
	for _, p := range s.Patterns {
		if p.PatternType == patternType && p.Active {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b model.StoredPattern) int { return b.Occurrences - a.Occurrences })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FindPatternByKey(_ context.Context, patternType, key string) (model.StoredPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("FindPatternByKey"); err != nil {
		return model.StoredPattern{}, err
	}
	var best *model.StoredPattern
	for _, p := range s.Patterns {
		if p.PatternType != patternType || p.SignatureKey != key || !p.Active {
			continue
		}
		if best == nil || p.Occurrences > best.Occurrences {
			best = &p
		}
	}
	if best == nil {
		return model.StoredPattern{}, fmt.Errorf("agenttest: pattern %s/%s: %w", patternType, key, storage.ErrNotFound)
	}
	return *best, nil
}

func (s *Store) IncrementPattern(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Patterns[id]
	if !ok {
		return fmt.Errorf("agenttest: pattern %s: %w", id, storage.ErrNotFound)
	}
	p.Occurrences++
	p.LastSeenAt = s.now()
	s.Patterns[id] = p
	return nil
}

// --- reasoning logs ---

func (s *Store) InsertReasoningLogs(_ context.Context, logs []model.ReasoningLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("InsertReasoningLogs"); err != nil {
		return err
	}
	s.ReasoningLogs = append(s.ReasoningLogs, logs...)
	return nil
}

// --- mock data ---

func (s *Store) InsertMerchant(_ context.Context, m model.Merchant) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	for _, existing := range s.Merchants {
		if existing.StoreSlug == m.StoreSlug {
			return uuid.Nil, errors.New("agenttest: duplicate store slug " + m.StoreSlug)
		}
	}
	m.CreatedAt = s.now()
	s.Merchants = append(s.Merchants, m)
	return m.ID, nil
}

func (s *Store) ListMerchantIDs(_ context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for _, m := range s.Merchants {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, m.ID)
	}
	return out, nil
}

func (s *Store) InsertTicket(_ context.Context, t model.SupportTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.Tickets = append(s.Tickets, t)
	return nil
}

func (s *Store) InsertAPILog(_ context.Context, l model.APILog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	s.APILogs = append(s.APILogs, l)
	return nil
}

func (s *Store) InsertWebhookLog(_ context.Context, w model.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.now()
	}
	s.Webhooks = append(s.Webhooks, w)
	return nil
}

func (s *Store) InsertCheckoutSession(_ context.Context, c model.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.Checkouts = append(s.Checkouts, c)
	return nil
}

func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed("ClearAll"); err != nil {
		return err
	}
	s.Merchants, s.Tickets, s.APILogs, s.Webhooks, s.Checkouts = nil, nil, nil, nil, nil
	s.Actions = map[uuid.UUID]model.AgentAction{}
	s.Incidents = map[uuid.UUID]model.Incident{}
	s.ReasoningLogs = nil
	return nil
}
