package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// ArbService defines the methods that the arbitrage handler requires.
type ArbService interface {
	ListOpportunities(ctx context.Context, limit int) ([]domain.Opportunity, error)
	ListExecutions(ctx context.Context, limit int) ([]domain.ArbExecution, error)
	GetExecution(ctx context.Context, id string) (domain.ArbExecution, error)
	ProfitSince(ctx context.Context, since time.Time) (float64, error)
	ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ArbHandler serves opportunity, execution and audit history.
type ArbHandler struct {
	arb    ArbService
	logger *slog.Logger
	now    func() time.Time
}

// NewArbHandler creates an ArbHandler with the given service and logger.
func NewArbHandler(arb ArbService, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{arb: arb, logger: logHandler(logger, "arbitrage"), now: time.Now}
}

// ListOpportunities returns the most recent verified opportunities.
// GET /api/opportunities?limit=50
func (h *ArbHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	opps, err := h.arb.ListOpportunities(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunities failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": opps})
}

// ListExecutions returns recent executions with their legs.
// GET /api/executions?limit=50
func (h *ArbHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	list, err := h.arb.ListExecutions(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list executions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if list == nil {
		list = []domain.ArbExecution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": list})
}

// GetExecution returns a single execution by id.
// GET /api/executions/{id}
func (h *ArbHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing execution id")
		return
	}
	exec, err := h.arb.GetExecution(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get execution failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// Profit sums expected profit of executions since a point in time, the last
// 24 hours by default.
// GET /api/executions/profit?since=2026-01-01
func (h *ArbHandler) Profit(w http.ResponseWriter, r *http.Request) {
	since, ok := parseTime(r.URL.Query().Get("since"))
	if !ok {
		since = h.now().UTC().Add(-24 * time.Hour)
	}
	total, err := h.arb.ProfitSince(r.Context(), since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "profit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute profit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":            since.Format(time.RFC3339),
		"total_profit_usd": total,
	})
}

// ListAudit returns audit log entries.
// GET /api/audit?limit=50&offset=0&since=2026-01-01
func (h *ArbHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.arb.ListAudit(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
