package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mamori/internal/agent"
	"github.com/ashita-ai/mamori/internal/agent/actor"
	"github.com/ashita-ai/mamori/internal/auth"
	"github.com/ashita-ai/mamori/internal/ctxutil"
	"github.com/ashita-ai/mamori/internal/mockdata"
	"github.com/ashita-ai/mamori/internal/model"
)

const (
	defaultListLimit       = 50
	defaultRejectionReason = "Rejected by admin"
)

// AgentRunner runs and reports on agent cycles. *agent.Agent satisfies it.
type AgentRunner interface {
	RunOnce(ctx context.Context) (agent.LoopResult, error)
	Status() model.AgentStatus
}

// ActionService applies human decisions to persisted actions.
// *actor.Actor satisfies it.
type ActionService interface {
	ApproveAction(ctx context.Context, id uuid.UUID, approvedBy string) (model.ExecutionResult, error)
	RejectAction(ctx context.Context, id uuid.UUID, rejectedBy, reason string) error
	Rollback(ctx context.Context, id uuid.UUID) (model.ExecutionResult, error)
}

// Store is the read side the handlers query directly. *storage.DB satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	ListActions(ctx context.Context, status model.ApprovalStatus, limit int) ([]model.ActionListItem, error)
}

// MockData generates and clears demonstration data.
// *mockdata.Generator satisfies it.
type MockData interface {
	Generate(ctx context.Context, counts mockdata.Counts) (model.MockDataResult, error)
	Clear(ctx context.Context) (model.MockDataResult, error)
	Crisis(ctx context.Context) (model.MockDataResult, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	agent               AgentRunner
	actions             ActionService
	store               Store
	mockData            MockData
	jwtMgr              *auth.JWTManager
	operatorKeyHash     string
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): MockData, JWTMgr.
type HandlersDeps struct {
	Agent               AgentRunner
	Actions             ActionService
	Store               Store
	MockData            MockData
	JWTMgr              *auth.JWTManager
	OperatorKeyHash     string
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBody := d.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		agent:               d.Agent,
		actions:             d.Actions,
		store:               d.Store,
		mockData:            d.MockData,
		jwtMgr:              d.JWTMgr,
		operatorKeyHash:     d.OperatorKeyHash,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: maxBody,
	}
}

// writeInternalError logs err and writes a generic 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "path", r.URL.Path, "request_id", RequestIDFromContext(r))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// HandleRun handles POST /agent/run.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	res, err := h.agent.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, agent.ErrCycleInProgress) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "an agent cycle is already in progress")
			return
		}
		h.writeInternalError(w, r, "agent run failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res.Summary())
}

// HandleStatus handles GET /agent/run.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.agent.Status())
}

// HandleListActions handles GET /agent/actions.
func (h *Handlers) HandleListActions(w http.ResponseWriter, r *http.Request) {
	status := model.ApprovalPending
	if s := r.URL.Query().Get("status"); s != "" {
		status = model.ApprovalStatus(s)
	}
	if !status.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"status must be one of pending, approved, rejected, auto_approved")
		return
	}

	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = min(n, defaultListLimit)
	}

	items, err := h.store.ListActions(r.Context(), status, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to list actions", err)
		return
	}
	if items == nil {
		items = []model.ActionListItem{}
	}
	writeJSON(w, r, http.StatusOK, model.ActionListResponse{Actions: items})
}

// HandleDecideAction handles POST /agent/actions.
func (h *Handlers) HandleDecideAction(w http.ResponseWriter, r *http.Request) {
	var req model.ActionDecisionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "action_id and decision are required: "+err.Error())
		return
	}
	id, err := uuid.Parse(req.ActionID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "action_id must be a UUID")
		return
	}

	switch req.Decision {
	case model.DecisionApprove:
		by := firstNonEmpty(req.ApprovedBy, ctxutil.Operator(r.Context()))
		res, err := h.actions.ApproveAction(r.Context(), id, by)
		if err != nil {
			h.writeActionError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, model.ActionDecisionResponse{
			Message: "Action approved and executed",
			Result:  &res,
		})
	default:
		by := firstNonEmpty(req.RejectedBy, ctxutil.Operator(r.Context()))
		reason := firstNonEmpty(req.RejectionReason, defaultRejectionReason)
		if err := h.actions.RejectAction(r.Context(), id, by, reason); err != nil {
			h.writeActionError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, model.ActionDecisionResponse{Message: "Action rejected"})
	}
}

// HandleRollback handles POST /agent/actions/{id}/rollback.
func (h *Handlers) HandleRollback(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "action id must be a UUID")
		return
	}
	res, err := h.actions.Rollback(r.Context(), id)
	if err != nil {
		h.writeActionError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.ActionDecisionResponse{Message: "Action rolled back", Result: &res})
}

// writeActionError maps actor errors onto HTTP statuses.
func (h *Handlers) writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, actor.ErrActionNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "action not found")
	case errors.Is(err, actor.ErrActionRejected):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "action already rejected")
	case errors.Is(err, actor.ErrRollbackUnavailable):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "rollback not available for this action")
	default:
		h.writeInternalError(w, r, "action update failed", err)
	}
}

// HandleMockData handles POST /agent/mock-data. An empty body generates
// data with the default counts.
func (h *Handlers) HandleMockData(w http.ResponseWriter, r *http.Request) {
	if h.mockData == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "mock data is disabled")
		return
	}
	var req model.MockDataRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, errEmptyBody) {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var (
		res model.MockDataResult
		err error
	)
	switch req.Action {
	case model.MockClear:
		res, err = h.mockData.Clear(r.Context())
	case model.MockCrisis:
		res, err = h.mockData.Crisis(r.Context())
		if errors.Is(err, mockdata.ErrNoMerchants) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "No merchants found. Generate mock data first.")
			return
		}
	default:
		res, err = h.mockData.Generate(r.Context(), mockdata.Counts{
			Merchants:        req.Merchants,
			Tickets:          req.Tickets,
			APIErrors:        req.APIErrors,
			WebhookFailures:  req.WebhookFailures,
			CheckoutFailures: req.CheckoutFailures,
		})
	}
	if err != nil {
		h.writeInternalError(w, r, "mock data operation failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleAuthToken handles POST /auth/token. The operator key is checked
// against the configured Argon2id hash.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if h.jwtMgr == nil || h.operatorKeyHash == "" {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "operator login is not configured")
		return
	}

	valid, err := auth.VerifyOperatorKey(req.Key, h.operatorKeyHash)
	if err != nil {
		h.writeInternalError(w, r, "operator key hash is malformed", err)
		return
	}
	if !valid {
		h.logger.Warn("auth: operator key rejected", "operator", req.Operator, "remote_addr", r.RemoteAddr)
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	// Operator login never mints admin. Admin tokens come from `mamori token`.
	role := auth.RoleOperator
	if req.Role != "" {
		role = auth.Role(req.Role)
	}
	if role == auth.RoleAdmin {
		h.logger.Warn("auth: admin token requested with operator key", "operator", req.Operator, "remote_addr", r.RemoteAddr)
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "operator login cannot issue admin tokens")
		return
	}
	token, expiresAt, err := h.jwtMgr.IssueToken(req.Operator, role)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}
	h.logger.Info("auth: token issued", "operator", req.Operator, "role", role, "expires_at", expiresAt)
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
