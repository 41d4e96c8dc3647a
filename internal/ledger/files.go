package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

// FileRecord is one owned piece of content-addressed data. SharedWith only
// ever holds non-owner principals.
type FileRecord struct {
	ID          string
	ContentHash string
	Owner       string
	CreatedAt   time.Time
	SharedWith  map[string]bool
}

// FileRegistry owns file records, the per-owner index and the sharing sets.
// All file operations are owner-gated rather than role-gated; the gate is
// consulted only for the pause switch.
type FileRegistry struct {
	mu      sync.Mutex
	gate    *AccessGate
	journal Journal
	log     *zap.Logger

	seq        uint64
	files      map[string]*FileRecord
	burned     map[string]bool     // deleted ids, never reusable
	ownerIndex map[string][]string // owner -> ids, unordered
	ownerSeq   map[string]uint64   // per-owner upload counter for id derivation
	total      uint64
}

func NewFileRegistry(gate *AccessGate, journal Journal, log *zap.Logger) *FileRegistry {
	return &FileRegistry{
		gate:       gate,
		journal:    journal,
		log:        log,
		files:      make(map[string]*FileRecord),
		burned:     make(map[string]bool),
		ownerIndex: make(map[string][]string),
		ownerSeq:   make(map[string]uint64),
	}
}

func (r *FileRegistry) Restore(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.journal.Load(ctx, ComponentFileRegistry)
	if err != nil {
		return fmt.Errorf("load file registry journal: %w", err)
	}
	for _, e := range events {
		r.apply(e)
	}
	return nil
}

// DeriveFileID computes the record id from the upload parameters. The
// per-owner sequence keeps two uploads of identical content within the same
// timestamp unit from colliding.
func DeriveFileID(contentHash, owner string, createdAt time.Time, ownerSeq uint64) string {
	sum := sha3.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", contentHash, owner, createdAt.UnixNano(), ownerSeq)))
	return hex.EncodeToString(sum[:])
}

// UploadFile mints a new record owned by the caller and returns its id. The
// registry never sees file bytes, only the content hash produced upstream.
func (r *FileRegistry) UploadFile(ctx context.Context, caller, contentHash string) (string, error) {
	if err := r.gate.RequireNotPaused(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if contentHash == "" {
		return "", validationErr("content hash is empty")
	}
	if caller == "" {
		return "", validationErr("caller principal is empty")
	}

	now := time.Now().UTC()
	seq := r.ownerSeq[caller] + 1
	id := DeriveFileID(contentHash, caller, now, seq)

	// A hit here means the derivation itself misbehaved; it must surface,
	// not be silently ignored.
	if _, ok := r.files[id]; ok {
		return "", conflictErr("file id %s already exists", id)
	}
	if r.burned[id] {
		return "", conflictErr("file id %s was deleted and cannot be recreated", id)
	}

	err := r.commit(ctx, EventFileUploaded, now, EventData{
		FileID:      id,
		ContentHash: contentHash,
		Owner:       caller,
		OwnerSeq:    seq,
	})
	if err != nil {
		return "", err
	}
	r.log.Info("file uploaded", zap.String("id", id), zap.String("owner", caller))
	return id, nil
}

func (r *FileRegistry) ShareFile(ctx context.Context, caller, id, grantee string) error {
	if err := r.gate.RequireNotPaused(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.files[id]
	if !ok {
		return notFoundErr("file %s does not exist", id)
	}
	if rec.Owner != caller {
		return authorizationErr("caller %s is not the owner of file %s", caller, id)
	}
	if grantee == "" {
		return validationErr("grantee principal is empty")
	}
	if grantee == rec.Owner {
		return conflictErr("file %s is owned by %s", id, grantee)
	}
	if rec.SharedWith[grantee] {
		return conflictErr("file %s already shared with %s", id, grantee)
	}

	err := r.commit(ctx, EventFileShared, time.Now().UTC(), EventData{
		FileID:  id,
		Owner:   caller,
		Grantee: grantee,
	})
	if err != nil {
		return err
	}
	r.log.Info("file shared", zap.String("id", id), zap.String("grantee", grantee))
	return nil
}

func (r *FileRegistry) UnshareFile(ctx context.Context, caller, id, grantee string) error {
	if err := r.gate.RequireNotPaused(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.files[id]
	if !ok {
		return notFoundErr("file %s does not exist", id)
	}
	if rec.Owner != caller {
		return authorizationErr("caller %s is not the owner of file %s", caller, id)
	}
	if !rec.SharedWith[grantee] {
		return notFoundErr("file %s is not shared with %s", id, grantee)
	}

	err := r.commit(ctx, EventFileUnshared, time.Now().UTC(), EventData{
		FileID:  id,
		Owner:   caller,
		Grantee: grantee,
	})
	if err != nil {
		return err
	}
	r.log.Info("file unshared", zap.String("id", id), zap.String("grantee", grantee))
	return nil
}

// DeleteFile erases the record and burns its id for good; a later upload of
// the same content mints a fresh id instead of reviving this one.
func (r *FileRegistry) DeleteFile(ctx context.Context, caller, id string) error {
	if err := r.gate.RequireNotPaused(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.files[id]
	if !ok {
		return notFoundErr("file %s does not exist", id)
	}
	if rec.Owner != caller {
		return authorizationErr("caller %s is not the owner of file %s", caller, id)
	}

	err := r.commit(ctx, EventFileDeleted, time.Now().UTC(), EventData{
		FileID: id,
		Owner:  caller,
	})
	if err != nil {
		return err
	}
	r.log.Info("file deleted", zap.String("id", id), zap.String("owner", caller))
	return nil
}

// HasAccess reports whether the principal may read the file. Pure read, no
// role or pause gate.
func (r *FileRegistry) HasAccess(id, principal string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.files[id]
	if !ok {
		return false
	}
	return rec.Owner == principal || rec.SharedWith[principal]
}

func (r *FileRegistry) GetFile(id, caller string) (*FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.files[id]
	if !ok {
		return nil, notFoundErr("file %s does not exist", id)
	}
	if rec.Owner != caller && !rec.SharedWith[caller] {
		return nil, authorizationErr("caller %s has no access to file %s", caller, id)
	}

	out := &FileRecord{
		ID:          rec.ID,
		ContentHash: rec.ContentHash,
		Owner:       rec.Owner,
		CreatedAt:   rec.CreatedAt,
		SharedWith:  make(map[string]bool, len(rec.SharedWith)),
	}
	for p := range rec.SharedWith {
		out.SharedWith[p] = true
	}
	return out, nil
}

func (r *FileRegistry) GetUserFiles(principal string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.ownerIndex[principal]))
	copy(out, r.ownerIndex[principal])
	return out
}

func (r *FileRegistry) GetTotalFiles() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func (r *FileRegistry) commit(ctx context.Context, t EventType, at time.Time, data EventData) error {
	e := Event{
		Seq:       r.seq + 1,
		Component: ComponentFileRegistry,
		Type:      t,
		At:        at,
		Data:      data,
	}
	if err := r.journal.Append(ctx, []Event{e}); err != nil {
		return fmt.Errorf("append file registry journal: %w", err)
	}
	r.apply(e)
	return nil
}

func (r *FileRegistry) apply(e Event) {
	r.seq = e.Seq

	switch e.Type {
	case EventFileUploaded:
		r.files[e.Data.FileID] = &FileRecord{
			ID:          e.Data.FileID,
			ContentHash: e.Data.ContentHash,
			Owner:       e.Data.Owner,
			CreatedAt:   e.At,
			SharedWith:  make(map[string]bool),
		}
		r.ownerIndex[e.Data.Owner] = append(r.ownerIndex[e.Data.Owner], e.Data.FileID)
		r.ownerSeq[e.Data.Owner] = e.Data.OwnerSeq
		r.total++
	case EventFileShared:
		r.files[e.Data.FileID].SharedWith[e.Data.Grantee] = true
	case EventFileUnshared:
		delete(r.files[e.Data.FileID].SharedWith, e.Data.Grantee)
	case EventFileDeleted:
		r.removeFromOwnerIndex(e.Data.Owner, e.Data.FileID)
		delete(r.files, e.Data.FileID)
		r.burned[e.Data.FileID] = true
		r.total--
	}
}

// removeFromOwnerIndex swap-removes the id. The index is unordered, and the
// per-owner list is expected small, so a linear scan is fine.
func (r *FileRegistry) removeFromOwnerIndex(owner, id string) {
	ids := r.ownerIndex[owner]
	for i, v := range ids {
		if v == id {
			last := len(ids) - 1
			ids[i] = ids[last]
			r.ownerIndex[owner] = ids[:last]
			return
		}
	}
}
