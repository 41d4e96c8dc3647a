package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"hashvault.io/internal/ledger"
	"hashvault.io/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type UsersHandler struct {
	users    *ledger.UserRegistry
	validate *validator.Validate
	log      *zap.Logger
}

func NewUsersHandler(users *ledger.UserRegistry, log *zap.Logger) *UsersHandler {
	return &UsersHandler{users: users, validate: validator.New(), log: log}
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=1,max=50,alphanumunicode"`
}

type StorageUpdateRequest struct {
	Value uint64 `json:"value"`
}

type ProfileResponse struct {
	Principal    string    `json:"principal"`
	Username     string    `json:"username"`
	StorageLimit uint64    `json:"storage_limit"`
	UsedStorage  uint64    `json:"used_storage"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (h *UsersHandler) Register(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "Invalid username", http.StatusBadRequest)
		return
	}

	if err := h.users.Register(r.Context(), caller, req.Username); err != nil {
		writeLedgerError(w, err)
		return
	}

	profile, err := h.users.GetUserProfile(caller)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(profile))
}

func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")

	profile, err := h.users.GetUserProfile(principal)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

func (h *UsersHandler) GetByUsername(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	principal, err := h.users.GetAddressByUsername(username)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"username":  username,
		"principal": principal,
	})
}

func (h *UsersHandler) CanStore(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	size, err := strconv.ParseUint(r.URL.Query().Get("size"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid size", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{
		"can_store": h.users.CanStoreData(principal, size),
	})
}

func (h *UsersHandler) UpdateUsedStorage(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())
	principal := chi.URLParam(r, "principal")

	var req StorageUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.users.UpdateUsedStorage(r.Context(), caller, principal, req.Value); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *UsersHandler) UpdateStorageLimit(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())
	principal := chi.URLParam(r, "principal")

	var req StorageUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.users.UpdateStorageLimit(r.Context(), caller, principal, req.Value); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *UsersHandler) UpdateDefaultStorageLimit(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	var req StorageUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.users.UpdateDefaultStorageLimit(r.Context(), caller, req.Value); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toProfileResponse(p *ledger.UserProfile) ProfileResponse {
	return ProfileResponse{
		Principal:    p.Principal,
		Username:     p.Username,
		StorageLimit: p.StorageLimit,
		UsedStorage:  p.UsedStorage,
		RegisteredAt: p.RegisteredAt,
	}
}
