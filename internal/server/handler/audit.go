package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

// AuditHandler lists recorded lifecycle events.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler backed by store.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger}
}

// ListEvents returns audit entries newest first.
// GET /api/audit?limit=&offset=&since=&until=
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}
