package ledger

import (
	"context"
	"sync"
	"time"
)

// Component names used to partition the journal.
const (
	ComponentAccessGate   = "access_gate"
	ComponentFileRegistry = "file_registry"
	ComponentUserRegistry = "user_registry"
	ComponentFeeLedger    = "fee_ledger"
)

type EventType string

const (
	EventInitialized EventType = "Initialized"

	EventRoleGranted EventType = "RoleGranted"
	EventRoleRevoked EventType = "RoleRevoked"
	EventPaused      EventType = "Paused"
	EventUnpaused    EventType = "Unpaused"

	EventFileUploaded EventType = "FileUploaded"
	EventFileShared   EventType = "FileShared"
	EventFileUnshared EventType = "FileUnshared"
	EventFileDeleted  EventType = "FileDeleted"

	EventUserRegistered             EventType = "UserRegistered"
	EventUsedStorageUpdated         EventType = "UsedStorageUpdated"
	EventStorageLimitUpdated        EventType = "StorageLimitUpdated"
	EventDefaultStorageLimitUpdated EventType = "DefaultStorageLimitUpdated"

	EventFundsDeposited            EventType = "FundsDeposited"
	EventFeeCollected              EventType = "FeeCollected"
	EventFeeDistributed            EventType = "FeeDistributed"
	EventFeeConfigUpdated          EventType = "FeeConfigUpdated"
	EventTreasuryUpdated           EventType = "TreasuryUpdated"
	EventDiscountedUserAdded       EventType = "DiscountedUserAdded"
	EventDiscountedUserRemoved     EventType = "DiscountedUserRemoved"
	EventDiscountPercentageUpdated EventType = "DiscountPercentageUpdated"
)

// EventData carries every field any event can hold; unused fields stay at
// their zero value and are dropped from the JSON payload. Events are
// append-only and must be enough to replay the full state transition.
type EventData struct {
	Principal string `json:"principal,omitempty"`
	Role      string `json:"role,omitempty"`

	FileID      string `json:"file_id,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Grantee     string `json:"grantee,omitempty"`
	OwnerSeq    uint64 `json:"owner_seq,omitempty"`

	Username     string `json:"username,omitempty"`
	StorageLimit uint64 `json:"storage_limit,omitempty"`
	UsedStorage  uint64 `json:"used_storage,omitempty"`

	Payer    string `json:"payer,omitempty"`
	Amount   uint64 `json:"amount,omitempty"`
	Attached uint64 `json:"attached,omitempty"`
	FeeType  string `json:"fee_type,omitempty"`
	Treasury string `json:"treasury,omitempty"`

	BaseStorageFee     uint64 `json:"base_storage_fee,omitempty"`
	NetworkFee         uint64 `json:"network_fee,omitempty"`
	SharingFee         uint64 `json:"sharing_fee,omitempty"`
	MinimumFee         uint64 `json:"minimum_fee,omitempty"`
	DiscountPercentage uint64 `json:"discount_percentage,omitempty"`
}

type Event struct {
	Seq       uint64    `json:"seq"`
	Component string    `json:"component"`
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	Data      EventData `json:"data"`
}

// Journal is the durable append-only event log. Append must persist all
// events or none of them; Load returns a component's events in seq order.
type Journal interface {
	Append(ctx context.Context, events []Event) error
	Load(ctx context.Context, component string) ([]Event, error)
}

// MemoryJournal keeps events in process memory. Used by tests and
// single-node dev deployments where durability is not required.
type MemoryJournal struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(ctx context.Context, events []Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, events...)
	return nil
}

func (j *MemoryJournal) Load(ctx context.Context, component string) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Event
	for _, e := range j.events {
		if e.Component == component {
			out = append(out, e)
		}
	}
	return out, nil
}

// Tail returns up to n most recent events across all components, newest
// last. Serves the audit read endpoint.
func (j *MemoryJournal) Tail(ctx context.Context, n int) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if n <= 0 || n > len(j.events) {
		n = len(j.events)
	}
	out := make([]Event, n)
	copy(out, j.events[len(j.events)-n:])
	return out, nil
}
