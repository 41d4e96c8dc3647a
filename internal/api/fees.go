package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"hashvault.io/internal/ledger"
	"hashvault.io/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type FeesHandler struct {
	fees     *ledger.FeeLedger
	validate *validator.Validate
	log      *zap.Logger
}

func NewFeesHandler(fees *ledger.FeeLedger, log *zap.Logger) *FeesHandler {
	return &FeesHandler{fees: fees, validate: validator.New(), log: log}
}

type DepositRequest struct {
	Amount uint64 `json:"amount" validate:"required,gt=0"`
}

type CollectFeeRequest struct {
	Payer    string `json:"payer" validate:"required"`
	Amount   uint64 `json:"amount"`
	Attached uint64 `json:"attached"`
	FeeType  string `json:"fee_type" validate:"required"`
}

type FeeConfigRequest struct {
	BaseStorageFee uint64 `json:"base_storage_fee"`
	NetworkFee     uint64 `json:"network_fee"`
	SharingFee     uint64 `json:"sharing_fee"`
	MinimumFee     uint64 `json:"minimum_fee"`
}

type FeeConfigResponse struct {
	BaseStorageFee     uint64 `json:"base_storage_fee"`
	NetworkFee         uint64 `json:"network_fee"`
	SharingFee         uint64 `json:"sharing_fee"`
	MinimumFee         uint64 `json:"minimum_fee"`
	Treasury           string `json:"treasury"`
	DiscountPercentage uint64 `json:"discount_percentage"`
}

func (h *FeesHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.fees.Config()
	writeJSON(w, http.StatusOK, FeeConfigResponse{
		BaseStorageFee:     cfg.BaseStorageFee,
		NetworkFee:         cfg.NetworkFee,
		SharingFee:         cfg.SharingFee,
		MinimumFee:         cfg.MinimumFee,
		Treasury:           h.fees.Treasury(),
		DiscountPercentage: h.fees.DiscountPercentage(),
	})
}

func (h *FeesHandler) StorageFee(w http.ResponseWriter, r *http.Request) {
	size, err := strconv.ParseUint(r.URL.Query().Get("size"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid size", http.StatusBadRequest)
		return
	}

	fee := h.fees.CalculateStorageFee(size)
	writeJSON(w, http.StatusOK, map[string]uint64{"fee": fee})
}

func (h *FeesHandler) SharingFee(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"fee": h.fees.GetSharingFee()})
}

// Quote applies the principal's discount to an amount.
func (h *FeesHandler) Quote(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid amount", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"principal":  principal,
		"discounted": h.fees.IsDiscounted(principal),
		"amount":     h.fees.ApplyDiscount(principal, amount),
	})
}

func (h *FeesHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "Invalid amount", http.StatusBadRequest)
		return
	}

	if err := h.fees.Deposit(r.Context(), caller, req.Amount); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": h.fees.BalanceOf(caller)})
}

func (h *FeesHandler) Collect(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	var req CollectFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	err := h.fees.CollectFee(r.Context(), caller, req.Payer, req.Amount, req.Attached, req.FeeType)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FeesHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	if err := h.fees.DistributeFees(r.Context(), caller); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FeesHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	var req FeeConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	err := h.fees.UpdateFeeConfig(r.Context(), caller, ledger.FeeConfig{
		BaseStorageFee: req.BaseStorageFee,
		NetworkFee:     req.NetworkFee,
		SharingFee:     req.SharingFee,
		MinimumFee:     req.MinimumFee,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FeesHandler) UpdateTreasury(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	var req struct {
		Treasury string `json:"treasury"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.fees.UpdateTreasury(r.Context(), caller, req.Treasury); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FeesHandler) AddDiscount(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	var req struct {
		Principal string `json:"principal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.fees.AddDiscountedUser(r.Context(), caller, req.Principal); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FeesHandler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())
	principal := chi.URLParam(r, "principal")

	if err := h.fees.RemoveDiscountedUser(r.Context(), caller, principal); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FeesHandler) UpdateDiscountPercentage(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	var req struct {
		Percentage uint64 `json:"percentage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.fees.UpdateDiscountPercentage(r.Context(), caller, req.Percentage); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FeesHandler) Balance(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"principal": principal,
		"balance":   h.fees.BalanceOf(principal),
	})
}

func (h *FeesHandler) Undistributed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"undistributed": h.fees.UndistributedBalance()})
}
