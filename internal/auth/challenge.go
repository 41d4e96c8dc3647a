package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/sha3"
)

const challengeTTL = 5 * time.Minute

var (
	ErrChallengeNotFound = errors.New("no outstanding challenge")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrBadSignature      = errors.New("signature verification failed")
	ErrAddressMismatch   = errors.New("public key does not derive the address")
)

// DeriveAddress derives a principal address from an ed25519 public key:
// 0x-prefixed hex of the last 20 bytes of the key's keccak-256 digest.
func DeriveAddress(pub ed25519.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub)
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

type challenge struct {
	Nonce     string
	ExpiresAt time.Time
}

// ChallengeStore hands out single-use login nonces keyed by address. The
// cache is size-bounded so unanswered challenges cannot grow without limit.
type ChallengeStore struct {
	cache *lru.Cache
}

func NewChallengeStore(size int) (*ChallengeStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &ChallengeStore{cache: cache}, nil
}

// Issue creates a fresh nonce for the address, replacing any outstanding
// one.
func (s *ChallengeStore) Issue(address string) string {
	nonce := uuid.NewString()
	s.cache.Add(strings.ToLower(address), challenge{
		Nonce:     nonce,
		ExpiresAt: time.Now().Add(challengeTTL),
	})
	return nonce
}

// Verify checks that the signature over the outstanding nonce was made by
// the key deriving the address. The challenge is consumed on any outcome
// except a missing one.
func (s *ChallengeStore) Verify(address string, pub ed25519.PublicKey, signature []byte) error {
	key := strings.ToLower(address)
	v, ok := s.cache.Get(key)
	if !ok {
		return ErrChallengeNotFound
	}
	s.cache.Remove(key)

	ch := v.(challenge)
	if time.Now().After(ch.ExpiresAt) {
		return ErrChallengeExpired
	}
	if !strings.EqualFold(DeriveAddress(pub), address) {
		return ErrAddressMismatch
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, []byte(ch.Nonce), signature) {
		return ErrBadSignature
	}
	return nil
}
