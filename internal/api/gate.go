package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"hashvault.io/internal/ledger"
	"hashvault.io/internal/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// EventTailer serves the audit view over the journal.
type EventTailer interface {
	Tail(ctx context.Context, n int) ([]ledger.Event, error)
}

type GateHandler struct {
	gate   *ledger.AccessGate
	events EventTailer
	log    *zap.Logger
}

func NewGateHandler(gate *ledger.AccessGate, events EventTailer, log *zap.Logger) *GateHandler {
	return &GateHandler{gate: gate, events: events, log: log}
}

type RoleRequest struct {
	Role      string `json:"role"`
	Principal string `json:"principal"`
}

func (h *GateHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	var req RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.gate.GrantRole(r.Context(), caller, ledger.Role(req.Role), req.Principal); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *GateHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	var req RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.gate.RevokeRole(r.Context(), caller, ledger.Role(req.Role), req.Principal); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *GateHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	role := ledger.Role(chi.URLParam(r, "role"))
	if !ledger.ValidRole(role) {
		http.Error(w, "Unknown role", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"role":    role,
		"members": h.gate.Members(role),
	})
}

func (h *GateHandler) Pause(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())
	if err := h.gate.Pause(r.Context(), caller); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (h *GateHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())
	if err := h.gate.Unpause(r.Context(), caller); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (h *GateHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"paused": h.gate.Paused()})
}

// Events returns the journal tail for external auditors. Caller must hold
// the admin role.
func (h *GateHandler) Events(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())
	if err := h.gate.RequireRole(caller, ledger.RoleAdmin); err != nil {
		writeLedgerError(w, err)
		return
	}

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	events, err := h.events.Tail(r.Context(), limit)
	if err != nil {
		h.log.Error("event tail failed", zap.Error(err))
		http.Error(w, "Failed to load events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
