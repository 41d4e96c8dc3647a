package api

import (
	"bytes"
	"io"
	"net/http"

	"hashvault.io/internal/content"
	"hashvault.io/internal/ledger"
	"hashvault.io/internal/middleware"
	"hashvault.io/internal/storage"

	"go.uber.org/zap"
)

// StoreHandler is the orchestrated store flow: quota check, content put,
// file upload, fee collection, usage update. The ledgers stay decoupled; all
// sequencing lives here. The sequence is not atomic as a unit - the quota
// check and the usage update are separate calls with an observable window
// between them.
type StoreHandler struct {
	users *ledger.UserRegistry
	files *ledger.FileRegistry
	fees  *ledger.FeeLedger
	blobs storage.BlobStore

	// service holds the verifier and fee-manager roles used for the
	// collection and usage-update legs.
	service string
	log     *zap.Logger
}

func NewStoreHandler(users *ledger.UserRegistry, files *ledger.FileRegistry, fees *ledger.FeeLedger, blobs storage.BlobStore, service string, log *zap.Logger) *StoreHandler {
	return &StoreHandler{
		users:   users,
		files:   files,
		fees:    fees,
		blobs:   blobs,
		service: service,
		log:     log,
	}
}

type StoreResponse struct {
	ID          string `json:"id"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
	Fee         uint64 `json:"fee"`
}

func (h *StoreHandler) Store(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetPrincipal(r.Context())

	data, err := io.ReadAll(io.LimitReader(r.Body, MaxContentSize+1))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	if len(data) > MaxContentSize {
		http.Error(w, "Content too large", http.StatusRequestEntityTooLarge)
		return
	}

	hash, size, err := content.RootHash(bytes.NewReader(data))
	if err != nil {
		http.Error(w, "Empty content", http.StatusBadRequest)
		return
	}

	if !h.users.CanStoreData(caller, uint64(size)) {
		http.Error(w, "Storage quota exceeded", http.StatusInsufficientStorage)
		return
	}

	if err := h.blobs.Put(r.Context(), hash, bytes.NewReader(data), size); err != nil {
		h.log.Error("blob put failed", zap.String("hash", hash), zap.Error(err))
		http.Error(w, "Failed to store content", http.StatusInternalServerError)
		return
	}

	id, err := h.files.UploadFile(r.Context(), caller, hash)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	fee := h.fees.ApplyDiscount(caller, h.fees.CalculateStorageFee(uint64(size)))
	if err := h.fees.CollectFee(r.Context(), h.service, caller, fee, fee, "storage"); err != nil {
		// The upload already landed; undo it so the caller is not left
		// owning an unpaid record.
		if delErr := h.files.DeleteFile(r.Context(), caller, id); delErr != nil {
			h.log.Error("compensating delete failed", zap.String("id", id), zap.Error(delErr))
		}
		writeLedgerError(w, err)
		return
	}

	profile, err := h.users.GetUserProfile(caller)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	err = h.users.UpdateUsedStorage(r.Context(), h.service, caller, profile.UsedStorage+uint64(size))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	h.log.Info("store flow complete",
		zap.String("principal", caller),
		zap.String("id", id),
		zap.Int64("size", size),
		zap.Uint64("fee", fee))
	writeJSON(w, http.StatusCreated, StoreResponse{
		ID:          id,
		ContentHash: hash,
		Size:        size,
		Fee:         fee,
	})
}
