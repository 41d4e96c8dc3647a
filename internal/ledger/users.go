package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type UserProfile struct {
	Principal    string
	Username     string
	StorageLimit uint64
	UsedStorage  uint64
	RegisteredAt time.Time
}

// UserRegistry owns per-principal registration, username uniqueness and
// storage quota accounting. usedStorage never exceeds storageLimit.
type UserRegistry struct {
	mu      sync.Mutex
	gate    *AccessGate
	journal Journal
	log     *zap.Logger

	seq          uint64
	profiles     map[string]*UserProfile
	byUsername   map[string]string // username -> principal
	defaultLimit uint64
	initialized  bool
}

func NewUserRegistry(gate *AccessGate, journal Journal, log *zap.Logger) *UserRegistry {
	return &UserRegistry{
		gate:       gate,
		journal:    journal,
		log:        log,
		profiles:   make(map[string]*UserProfile),
		byUsername: make(map[string]string),
	}
}

func (r *UserRegistry) Restore(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.journal.Load(ctx, ComponentUserRegistry)
	if err != nil {
		return fmt.Errorf("load user registry journal: %w", err)
	}
	for _, e := range events {
		r.apply(e)
	}
	return nil
}

// Init sets the default storage limit granted to future registrations.
// Rejected once any registry event exists.
func (r *UserRegistry) Init(ctx context.Context, defaultLimit uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seq != 0 {
		return conflictErr("user registry already initialized")
	}

	err := r.commit(ctx, EventInitialized, EventData{StorageLimit: defaultLimit})
	if err != nil {
		return err
	}
	r.log.Info("user registry initialized", zap.Uint64("default_limit", defaultLimit))
	return nil
}

func (r *UserRegistry) Register(ctx context.Context, caller, username string) error {
	if err := r.gate.RequireNotPaused(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[caller]; ok {
		return conflictErr("principal %s is already registered", caller)
	}
	if username == "" {
		return validationErr("username is empty")
	}
	if _, taken := r.byUsername[username]; taken {
		return conflictErr("username %q is already taken", username)
	}

	err := r.commit(ctx, EventUserRegistered, EventData{
		Principal:    caller,
		Username:     username,
		StorageLimit: r.defaultLimit,
	})
	if err != nil {
		return err
	}
	r.log.Info("user registered", zap.String("principal", caller), zap.String("username", username))
	return nil
}

// UpdateUsedStorage overwrites a principal's used storage with an absolute
// value. The verifier computes the new total; the registry only enforces the
// limit on this single write.
func (r *UserRegistry) UpdateUsedStorage(ctx context.Context, caller, principal string, newUsed uint64) error {
	if err := r.gate.RequireRole(caller, RoleVerifier); err != nil {
		return err
	}
	if err := r.gate.RequireNotPaused(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[principal]
	if !ok {
		return notFoundErr("principal %s is not registered", principal)
	}
	if newUsed > p.StorageLimit {
		return validationErr("storage limit exceeded: %d > %d", newUsed, p.StorageLimit)
	}

	err := r.commit(ctx, EventUsedStorageUpdated, EventData{
		Principal:   principal,
		UsedStorage: newUsed,
	})
	if err != nil {
		return err
	}
	r.log.Info("used storage updated", zap.String("principal", principal), zap.Uint64("used", newUsed))
	return nil
}

func (r *UserRegistry) UpdateStorageLimit(ctx context.Context, caller, principal string, newLimit uint64) error {
	if err := r.gate.RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if err := r.gate.RequireNotPaused(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[principal]
	if !ok {
		return notFoundErr("principal %s is not registered", principal)
	}
	if newLimit < p.UsedStorage {
		return validationErr("limit %d below current usage %d", newLimit, p.UsedStorage)
	}

	err := r.commit(ctx, EventStorageLimitUpdated, EventData{
		Principal:    principal,
		StorageLimit: newLimit,
	})
	if err != nil {
		return err
	}
	r.log.Info("storage limit updated", zap.String("principal", principal), zap.Uint64("limit", newLimit))
	return nil
}

// UpdateDefaultStorageLimit affects only future registrations.
func (r *UserRegistry) UpdateDefaultStorageLimit(ctx context.Context, caller string, newLimit uint64) error {
	if err := r.gate.RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if err := r.gate.RequireNotPaused(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.commit(ctx, EventDefaultStorageLimitUpdated, EventData{StorageLimit: newLimit})
	if err != nil {
		return err
	}
	r.log.Info("default storage limit updated", zap.Uint64("limit", newLimit))
	return nil
}

func (r *UserRegistry) GetUserProfile(principal string) (*UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[principal]
	if !ok {
		return nil, notFoundErr("principal %s is not registered", principal)
	}
	out := *p
	return &out, nil
}

func (r *UserRegistry) GetAddressByUsername(username string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	principal, ok := r.byUsername[username]
	if !ok {
		return "", notFoundErr("username %q is not registered", username)
	}
	return principal, nil
}

// CanStoreData is a pure capacity read; it reserves nothing. The caller must
// follow a successful store with UpdateUsedStorage, and two overlapping
// check/update sequences can jointly oversubscribe the limit.
func (r *UserRegistry) CanStoreData(principal string, size uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[principal]
	if !ok {
		return false
	}
	return p.UsedStorage+size <= p.StorageLimit
}

func (r *UserRegistry) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

func (r *UserRegistry) DefaultStorageLimit() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultLimit
}

func (r *UserRegistry) commit(ctx context.Context, t EventType, data EventData) error {
	e := Event{
		Seq:       r.seq + 1,
		Component: ComponentUserRegistry,
		Type:      t,
		At:        time.Now().UTC(),
		Data:      data,
	}
	if err := r.journal.Append(ctx, []Event{e}); err != nil {
		return fmt.Errorf("append user registry journal: %w", err)
	}
	r.apply(e)
	return nil
}

func (r *UserRegistry) apply(e Event) {
	r.seq = e.Seq

	switch e.Type {
	case EventInitialized:
		r.defaultLimit = e.Data.StorageLimit
		r.initialized = true
	case EventUserRegistered:
		r.profiles[e.Data.Principal] = &UserProfile{
			Principal:    e.Data.Principal,
			Username:     e.Data.Username,
			StorageLimit: e.Data.StorageLimit,
			RegisteredAt: e.At,
		}
		r.byUsername[e.Data.Username] = e.Data.Principal
	case EventUsedStorageUpdated:
		r.profiles[e.Data.Principal].UsedStorage = e.Data.UsedStorage
	case EventStorageLimitUpdated:
		r.profiles[e.Data.Principal].StorageLimit = e.Data.StorageLimit
	case EventDefaultStorageLimitUpdated:
		r.defaultLimit = e.Data.StorageLimit
	}
}
