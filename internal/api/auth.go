package api

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"hashvault.io/internal/auth"
	"hashvault.io/internal/config"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type AuthHandler struct {
	challenges *auth.ChallengeStore
	cfg        *config.Config
	validate   *validator.Validate
	log        *zap.Logger
}

func NewAuthHandler(challenges *auth.ChallengeStore, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		challenges: challenges,
		cfg:        cfg,
		validate:   validator.New(),
		log:        log,
	}
}

type ChallengeRequest struct {
	Address string `json:"address" validate:"required,hexadecimal"`
}

type ChallengeResponse struct {
	Nonce string `json:"nonce"`
}

type VerifyRequest struct {
	Address   string `json:"address" validate:"required"`
	PublicKey string `json:"public_key" validate:"required,hexadecimal"`
	Signature string `json:"signature" validate:"required,hexadecimal"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	Principal string `json:"principal"`
}

func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}

	nonce := h.challenges.Issue(req.Address)
	writeJSON(w, http.StatusOK, ChallengeResponse{Nonce: nonce})
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	pub, err := hex.DecodeString(req.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		http.Error(w, "Invalid public key", http.StatusBadRequest)
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		http.Error(w, "Invalid signature encoding", http.StatusBadRequest)
		return
	}

	if err := h.challenges.Verify(req.Address, pub, sig); err != nil {
		h.log.Info("login rejected", zap.String("address", req.Address), zap.Error(err))
		http.Error(w, "Verification failed", http.StatusUnauthorized)
		return
	}

	// The ledgers compare principals string-equal, so the token must carry
	// the canonical key-derived form, not whatever casing the client sent.
	principal := auth.DeriveAddress(pub)
	token, err := auth.GenerateToken(principal, h.cfg.JWTSecret, time.Duration(h.cfg.TokenTTLMin)*time.Minute)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: token, Principal: principal})
}
