package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FeeConfig holds pricing in the smallest currency unit. Integer arithmetic
// throughout; no rounding ambiguity.
type FeeConfig struct {
	BaseStorageFee uint64
	NetworkFee     uint64
	SharingFee     uint64
	MinimumFee     uint64
}

// TransferFunc is notified before an outbound settlement is recorded
// (excess refunds, treasury sweeps). A non-nil error vetoes the whole
// operation before anything is recorded. The internal accounts are the
// ledger of record: the excess stays in the payer's account and the sweep
// credits the treasury's account either way, so an implementation must not
// move those funds a second time.
type TransferFunc func(to string, amount uint64) error

// FeeLedger owns fee pricing, discounts, collection and treasury
// distribution. Principals fund an internal account via Deposit; the value
// attached to a CollectFee call is debited from that account, so recorded
// balances always equal held funds.
type FeeLedger struct {
	mu      sync.Mutex
	gate    *AccessGate
	journal Journal
	log     *zap.Logger

	transfer TransferFunc

	seq           uint64
	cfg           FeeConfig
	treasury      string
	discounted    map[string]bool
	discountPct   uint64
	accounts      map[string]uint64
	undistributed uint64
	initialized   bool
}

func NewFeeLedger(gate *AccessGate, journal Journal, log *zap.Logger) *FeeLedger {
	return &FeeLedger{
		gate:       gate,
		journal:    journal,
		log:        log,
		discounted: make(map[string]bool),
		accounts:   make(map[string]uint64),
	}
}

// SetTransferFunc installs the external settlement hook. Optional; when
// nil, refunds and sweeps are recorded without an external veto.
func (l *FeeLedger) SetTransferFunc(fn TransferFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transfer = fn
}

func (l *FeeLedger) Restore(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.journal.Load(ctx, ComponentFeeLedger)
	if err != nil {
		return fmt.Errorf("load fee ledger journal: %w", err)
	}
	for _, e := range events {
		l.apply(e)
	}
	return nil
}

// Init sets the initial fee schedule, treasury and discount percentage.
// Rejected once any ledger event exists.
func (l *FeeLedger) Init(ctx context.Context, cfg FeeConfig, treasury string, discountPct uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seq != 0 {
		return conflictErr("fee ledger already initialized")
	}
	if treasury == "" {
		return validationErr("treasury principal is empty")
	}
	if discountPct > 100 {
		return validationErr("discount percentage %d out of range", discountPct)
	}

	err := l.commit(ctx, EventInitialized, EventData{
		Treasury:           treasury,
		BaseStorageFee:     cfg.BaseStorageFee,
		NetworkFee:         cfg.NetworkFee,
		SharingFee:         cfg.SharingFee,
		MinimumFee:         cfg.MinimumFee,
		DiscountPercentage: discountPct,
	})
	if err != nil {
		return err
	}
	l.log.Info("fee ledger initialized", zap.String("treasury", treasury))
	return nil
}

// CalculateStorageFee prices a store of the given size, floored at the
// minimum fee.
func (l *FeeLedger) CalculateStorageFee(size uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	amount := size*l.cfg.BaseStorageFee + l.cfg.NetworkFee
	if amount < l.cfg.MinimumFee {
		return l.cfg.MinimumFee
	}
	return amount
}

func (l *FeeLedger) GetSharingFee() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.SharingFee
}

// ApplyDiscount reduces the amount for discounted principals, rounding the
// discount down.
func (l *FeeLedger) ApplyDiscount(principal string, amount uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.discounted[principal] {
		return amount
	}
	return amount - amount*l.discountPct/100
}

// Deposit credits the caller's ledger account so later calls can attach
// value.
func (l *FeeLedger) Deposit(ctx context.Context, caller string, amount uint64) error {
	if err := l.gate.RequireNotPaused(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if caller == "" {
		return validationErr("caller principal is empty")
	}
	if amount == 0 {
		return validationErr("deposit amount is zero")
	}

	err := l.commit(ctx, EventFundsDeposited, EventData{Principal: caller, Amount: amount})
	if err != nil {
		return err
	}
	l.log.Info("funds deposited", zap.String("principal", caller), zap.Uint64("amount", amount))
	return nil
}

// CollectFee debits the attached value from the payer's account, keeps the
// fee and returns the excess. The whole call succeeds or nothing happens: a
// failed excess refund aborts the collection and its event too.
func (l *FeeLedger) CollectFee(ctx context.Context, caller, payer string, amount, attached uint64, feeType string) error {
	if err := l.gate.RequireRole(caller, RoleFeeManager); err != nil {
		return err
	}
	if err := l.gate.RequireNotPaused(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if feeType == "" {
		return validationErr("fee type is empty")
	}
	if attached < amount {
		return financialErr("insufficient payment: attached %d < amount %d", attached, amount)
	}
	if l.accounts[payer] < attached {
		return financialErr("insufficient funds: payer %s holds %d, attached %d", payer, l.accounts[payer], attached)
	}

	if excess := attached - amount; excess > 0 && l.transfer != nil {
		if err := l.transfer(payer, excess); err != nil {
			return financialErr("failed to return excess: %v", err)
		}
	}

	err := l.commit(ctx, EventFeeCollected, EventData{
		Payer:    payer,
		Amount:   amount,
		Attached: attached,
		FeeType:  feeType,
	})
	if err != nil {
		return err
	}
	l.log.Info("fee collected",
		zap.String("payer", payer),
		zap.Uint64("amount", amount),
		zap.String("fee_type", feeType))
	return nil
}

// DistributeFees sweeps the entire undistributed balance to the treasury. A
// failed sweep leaves the balance untouched; there is no partial
// distribution.
func (l *FeeLedger) DistributeFees(ctx context.Context, caller string) error {
	if err := l.gate.RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if err := l.gate.RequireNotPaused(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.undistributed == 0 {
		return financialErr("nothing to distribute")
	}
	if l.treasury == "" {
		return financialErr("treasury is not configured")
	}

	amount := l.undistributed
	if l.transfer != nil {
		if err := l.transfer(l.treasury, amount); err != nil {
			return financialErr("treasury transfer failed: %v", err)
		}
	}

	err := l.commit(ctx, EventFeeDistributed, EventData{
		Treasury: l.treasury,
		Amount:   amount,
	})
	if err != nil {
		return err
	}
	l.log.Info("fees distributed", zap.String("treasury", l.treasury), zap.Uint64("amount", amount))
	return nil
}

func (l *FeeLedger) UpdateFeeConfig(ctx context.Context, caller string, cfg FeeConfig) error {
	if err := l.gate.RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if err := l.gate.RequireNotPaused(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.commit(ctx, EventFeeConfigUpdated, EventData{
		BaseStorageFee: cfg.BaseStorageFee,
		NetworkFee:     cfg.NetworkFee,
		SharingFee:     cfg.SharingFee,
		MinimumFee:     cfg.MinimumFee,
	})
	if err != nil {
		return err
	}
	l.log.Info("fee config updated",
		zap.Uint64("base_storage_fee", cfg.BaseStorageFee),
		zap.Uint64("network_fee", cfg.NetworkFee),
		zap.Uint64("sharing_fee", cfg.SharingFee),
		zap.Uint64("minimum_fee", cfg.MinimumFee))
	return nil
}

func (l *FeeLedger) UpdateTreasury(ctx context.Context, caller, newTreasury string) error {
	if err := l.gate.RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if err := l.gate.RequireNotPaused(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if newTreasury == "" {
		return validationErr("treasury principal is empty")
	}

	err := l.commit(ctx, EventTreasuryUpdated, EventData{Treasury: newTreasury})
	if err != nil {
		return err
	}
	l.log.Info("treasury updated", zap.String("treasury", newTreasury))
	return nil
}

func (l *FeeLedger) AddDiscountedUser(ctx context.Context, caller, principal string) error {
	if err := l.gate.RequireRole(caller, RoleFeeManager); err != nil {
		return err
	}
	if err := l.gate.RequireNotPaused(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if principal == "" {
		return validationErr("principal is empty")
	}
	if l.discounted[principal] {
		return conflictErr("principal %s is already discounted", principal)
	}

	err := l.commit(ctx, EventDiscountedUserAdded, EventData{Principal: principal})
	if err != nil {
		return err
	}
	l.log.Info("discounted user added", zap.String("principal", principal))
	return nil
}

func (l *FeeLedger) RemoveDiscountedUser(ctx context.Context, caller, principal string) error {
	if err := l.gate.RequireRole(caller, RoleFeeManager); err != nil {
		return err
	}
	if err := l.gate.RequireNotPaused(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.discounted[principal] {
		return notFoundErr("principal %s is not discounted", principal)
	}

	err := l.commit(ctx, EventDiscountedUserRemoved, EventData{Principal: principal})
	if err != nil {
		return err
	}
	l.log.Info("discounted user removed", zap.String("principal", principal))
	return nil
}

func (l *FeeLedger) UpdateDiscountPercentage(ctx context.Context, caller string, pct uint64) error {
	if err := l.gate.RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if err := l.gate.RequireNotPaused(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if pct > 100 {
		return validationErr("discount percentage %d out of range", pct)
	}

	err := l.commit(ctx, EventDiscountPercentageUpdated, EventData{DiscountPercentage: pct})
	if err != nil {
		return err
	}
	l.log.Info("discount percentage updated", zap.Uint64("percentage", pct))
	return nil
}

func (l *FeeLedger) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

func (l *FeeLedger) BalanceOf(principal string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[principal]
}

func (l *FeeLedger) UndistributedBalance() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.undistributed
}

func (l *FeeLedger) Config() FeeConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

func (l *FeeLedger) Treasury() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.treasury
}

func (l *FeeLedger) IsDiscounted(principal string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.discounted[principal]
}

func (l *FeeLedger) DiscountPercentage() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.discountPct
}

func (l *FeeLedger) commit(ctx context.Context, t EventType, data EventData) error {
	e := Event{
		Seq:       l.seq + 1,
		Component: ComponentFeeLedger,
		Type:      t,
		At:        time.Now().UTC(),
		Data:      data,
	}
	if err := l.journal.Append(ctx, []Event{e}); err != nil {
		return fmt.Errorf("append fee ledger journal: %w", err)
	}
	l.apply(e)
	return nil
}

func (l *FeeLedger) apply(e Event) {
	l.seq = e.Seq

	switch e.Type {
	case EventInitialized:
		l.cfg = FeeConfig{
			BaseStorageFee: e.Data.BaseStorageFee,
			NetworkFee:     e.Data.NetworkFee,
			SharingFee:     e.Data.SharingFee,
			MinimumFee:     e.Data.MinimumFee,
		}
		l.treasury = e.Data.Treasury
		l.discountPct = e.Data.DiscountPercentage
		l.initialized = true
	case EventFundsDeposited:
		l.accounts[e.Data.Principal] += e.Data.Amount
	case EventFeeCollected:
		// The excess (attached - amount) stays in the payer's account; only
		// the fee itself moves to the undistributed pool.
		l.accounts[e.Data.Payer] -= e.Data.Amount
		l.undistributed += e.Data.Amount
	case EventFeeDistributed:
		l.accounts[e.Data.Treasury] += e.Data.Amount
		l.undistributed = 0
	case EventFeeConfigUpdated:
		l.cfg = FeeConfig{
			BaseStorageFee: e.Data.BaseStorageFee,
			NetworkFee:     e.Data.NetworkFee,
			SharingFee:     e.Data.SharingFee,
			MinimumFee:     e.Data.MinimumFee,
		}
	case EventTreasuryUpdated:
		l.treasury = e.Data.Treasury
	case EventDiscountedUserAdded:
		l.discounted[e.Data.Principal] = true
	case EventDiscountedUserRemoved:
		delete(l.discounted, e.Data.Principal)
	case EventDiscountPercentageUpdated:
		l.discountPct = e.Data.DiscountPercentage
	}
}
