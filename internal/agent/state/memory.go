// Package state holds the agent's shared memory for the current process and
// the persisted key/value and pattern-memory stores that outlive it.
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mamori/internal/model"
)

// Signal buffer bounds. Once the buffer grows past bufferCap it is trimmed
// to the newest bufferKeep signals.
const (
	bufferCap  = 1000
	bufferKeep = 500
)

// Memory is the in-process snapshot shared by the agent phases. All methods
// are safe for concurrent use.
type Memory struct {
	processing atomic.Bool

	mu              sync.Mutex
	observation     *model.Observation
	reasoning       []model.ReasoningResult
	decisions       []model.Decision
	activeIncidents map[uuid.UUID]model.Incident
	pendingActions  []model.AgentAction
	signalBuffer    []model.Signal
	lastProcessedAt *time.Time
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{activeIncidents: make(map[uuid.UUID]model.Incident)}
}

// TryBeginProcessing claims the single in-flight cycle slot. It returns false
// when another cycle already holds it.
func (m *Memory) TryBeginProcessing() bool {
	return m.processing.CompareAndSwap(false, true)
}

// EndProcessing releases the cycle slot and stamps lastProcessedAt.
func (m *Memory) EndProcessing() {
	m.mu.Lock()
	now := time.Now().UTC()
	m.lastProcessedAt = &now
	m.mu.Unlock()
	m.processing.Store(false)
}

// IsProcessing reports whether a cycle is in flight.
func (m *Memory) IsProcessing() bool {
	return m.processing.Load()
}

// SetObservation replaces the current observation.
func (m *Memory) SetObservation(o model.Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observation = &o
}

// Observation returns the current observation, if any.
func (m *Memory) Observation() (model.Observation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.observation == nil {
		return model.Observation{}, false
	}
	return *m.observation, true
}

// SetReasoning replaces the current reasoning results.
func (m *Memory) SetReasoning(r []model.ReasoningResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasoning = r
}

// Reasoning returns the current reasoning results.
func (m *Memory) Reasoning() []model.ReasoningResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ReasoningResult(nil), m.reasoning...)
}

// SetDecisions replaces the current decisions.
func (m *Memory) SetDecisions(d []model.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = d
}

// Decisions returns the current decisions.
func (m *Memory) Decisions() []model.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Decision(nil), m.decisions...)
}

// BufferSignals appends signals, trimming to the newest bufferKeep once the
// buffer exceeds bufferCap.
func (m *Memory) BufferSignals(signals ...model.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signalBuffer = append(m.signalBuffer, signals...)
	if len(m.signalBuffer) > bufferCap {
		kept := make([]model.Signal, bufferKeep)
		copy(kept, m.signalBuffer[len(m.signalBuffer)-bufferKeep:])
		m.signalBuffer = kept
	}
}

// FlushSignals returns the buffered signals and empties the buffer.
func (m *Memory) FlushSignals() []model.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.signalBuffer
	m.signalBuffer = nil
	return out
}

// TrackIncident records an incident as active.
func (m *Memory) TrackIncident(inc model.Incident) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeIncidents[inc.ID] = inc
}

// UpdateIncident applies fn to a tracked incident. Untracked IDs are ignored.
func (m *Memory) UpdateIncident(id uuid.UUID, fn func(*model.Incident)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.activeIncidents[id]
	if !ok {
		return false
	}
	fn(&inc)
	inc.ID = id
	m.activeIncidents[id] = inc
	return true
}

// Incident returns a tracked incident.
func (m *Memory) Incident(id uuid.UUID) (model.Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.activeIncidents[id]
	return inc, ok
}

// ForgetIncident stops tracking an incident.
func (m *Memory) ForgetIncident(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activeIncidents, id)
}

// AddPendingAction queues an action awaiting approval.
func (m *Memory) AddPendingAction(a model.AgentAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingActions = append(m.pendingActions, a)
}

// CompleteAction removes an action from the pending list.
func (m *Memory) CompleteAction(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.pendingActions[:0]
	for _, a := range m.pendingActions {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	m.pendingActions = kept
}

// PendingActions returns a copy of the pending list.
func (m *Memory) PendingActions() []model.AgentAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.AgentAction(nil), m.pendingActions...)
}

// Stats is a read-only projection for status reporting.
func (m *Memory) Stats() model.AgentStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.AgentStats{
		ActiveIncidents: len(m.activeIncidents),
		PendingActions:  len(m.pendingActions),
		BufferedSignals: len(m.signalBuffer),
		IsProcessing:    m.processing.Load(),
	}
	if m.lastProcessedAt != nil {
		t := *m.lastProcessedAt
		s.LastProcessedAt = &t
	}
	return s
}

// Reset clears all in-memory state.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observation = nil
	m.reasoning = nil
	m.decisions = nil
	m.activeIncidents = make(map[uuid.UUID]model.Incident)
	m.pendingActions = nil
	m.signalBuffer = nil
	m.lastProcessedAt = nil
	m.processing.Store(false)
}
