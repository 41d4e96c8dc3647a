package api

import (
	"bytes"
	"io"
	"net/http"

	"hashvault.io/internal/content"
	"hashvault.io/internal/storage"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// MaxContentSize bounds a single content upload.
const MaxContentSize = 256 << 20

// ContentHandler is the thin byte surface in front of the blob store. It
// hashes, stores and verifies; ownership and quota live in the ledgers.
type ContentHandler struct {
	store storage.BlobStore
	log   *zap.Logger
}

func NewContentHandler(store storage.BlobStore, log *zap.Logger) *ContentHandler {
	return &ContentHandler{store: store, log: log}
}

func (h *ContentHandler) Put(w http.ResponseWriter, r *http.Request) {
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

	// Identical bytes land on the same key; re-putting is harmless.
	if err := h.store.Put(r.Context(), hash, bytes.NewReader(data), size); err != nil {
		h.log.Error("content put failed", zap.String("hash", hash), zap.Error(err))
		http.Error(w, "Failed to store content", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"content_hash": hash,
		"size":         size,
	})
}

func (h *ContentHandler) Get(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	rc, err := h.store.Get(r.Context(), hash)
	if err != nil {
		http.Error(w, "Content not found", http.StatusNotFound)
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		http.Error(w, "Content not found", http.StatusNotFound)
		return
	}

	// Retrieved bytes must hash back to the requested key.
	got, _, err := content.RootHash(bytes.NewReader(data))
	if err != nil || got != hash {
		h.log.Error("content digest mismatch", zap.String("want", hash), zap.String("got", got))
		http.Error(w, "Content failed verification", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}
