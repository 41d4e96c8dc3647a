package api

import (
	"encoding/json"
	"net/http"
	"time"

	"hashvault.io/internal/ledger"
	"hashvault.io/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type FilesHandler struct {
	files    *ledger.FileRegistry
	validate *validator.Validate
	log      *zap.Logger
}

func NewFilesHandler(files *ledger.FileRegistry, log *zap.Logger) *FilesHandler {
	return &FilesHandler{files: files, validate: validator.New(), log: log}
}

type UploadFileRequest struct {
	ContentHash string `json:"content_hash" validate:"required,hexadecimal"`
}

type ShareRequest struct {
	Grantee string `json:"grantee" validate:"required"`
}

type FileResponse struct {
	ID          string    `json:"id"`
	ContentHash string    `json:"content_hash"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
	SharedWith  []string  `json:"shared_with"`
}

func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	var req UploadFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "Invalid content hash", http.StatusBadRequest)
		return
	}

	id, err := h.files.UploadFile(r.Context(), caller, req.ContentHash)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "id")

	rec, err := h.files.GetFile(id, caller)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	shared := make([]string, 0, len(rec.SharedWith))
	for p := range rec.SharedWith {
		shared = append(shared, p)
	}
	writeJSON(w, http.StatusOK, FileResponse{
		ID:          rec.ID,
		ContentHash: rec.ContentHash,
		Owner:       rec.Owner,
		CreatedAt:   rec.CreatedAt,
		SharedWith:  shared,
	})
}

func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.files.DeleteFile(r.Context(), caller, id); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FilesHandler) Share(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "id")

	var req ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "Invalid grantee", http.StatusBadRequest)
		return
	}

	if err := h.files.ShareFile(r.Context(), caller, id, req.Grantee); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FilesHandler) Unshare(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "id")
	grantee := chi.URLParam(r, "grantee")

	if err := h.files.UnshareFile(r.Context(), caller, id, grantee); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *FilesHandler) HasAccess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	principal := r.URL.Query().Get("principal")

	writeJSON(w, http.StatusOK, map[string]bool{
		"has_access": h.files.HasAccess(id, principal),
	})
}

func (h *FilesHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner": principal,
		"files": h.files.GetUserFiles(principal),
	})
}

func (h *FilesHandler) Total(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"total": h.files.GetTotalFiles()})
}
