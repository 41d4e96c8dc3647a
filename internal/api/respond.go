package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"hashvault.io/internal/ledger"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeLedgerError maps the ledger failure taxonomy onto HTTP statuses. The
// kind field gives clients a stable value to branch on.
func writeLedgerError(w http.ResponseWriter, err error) {
	var (
		status = http.StatusInternalServerError
		kind   = "internal"
	)

	switch {
	case errors.Is(err, ledger.ErrValidation):
		status, kind = http.StatusBadRequest, "validation"
	case errors.Is(err, ledger.ErrAuthorization):
		status, kind = http.StatusForbidden, "authorization"
	case errors.Is(err, ledger.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrConflict):
		status, kind = http.StatusConflict, "conflict"
	case errors.Is(err, ledger.ErrFinancial):
		status, kind = http.StatusPaymentRequired, "financial"
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}
