package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Role string

const (
	RoleSuperAdmin Role = "super-admin"
	RoleAdmin      Role = "admin"
	RoleOperator   Role = "operator"
	RoleVerifier   Role = "verifier"
	RoleFeeManager Role = "fee-manager"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleOperator, RoleVerifier, RoleFeeManager:
		return true
	}
	return false
}

// AccessGate holds role membership and the global pause switch. The other
// ledgers consult it on every mutating call; role and pause changes are
// visible to the very next operation.
type AccessGate struct {
	mu      sync.Mutex
	journal Journal
	log     *zap.Logger

	seq    uint64
	roles  map[Role]map[string]bool
	paused bool
}

func NewAccessGate(journal Journal, log *zap.Logger) *AccessGate {
	return &AccessGate{
		journal: journal,
		log:     log,
		roles:   make(map[Role]map[string]bool),
	}
}

// Restore replays the gate's journal into memory. Must be called before the
// gate serves any operation.
func (g *AccessGate) Restore(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	events, err := g.journal.Load(ctx, ComponentAccessGate)
	if err != nil {
		return fmt.Errorf("load access gate journal: %w", err)
	}
	for _, e := range events {
		g.apply(e)
	}
	return nil
}

// Init grants the deploying principal super-admin and admin. Rejected once
// any gate event exists.
func (g *AccessGate) Init(ctx context.Context, deployer string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.seq != 0 {
		return conflictErr("access gate already initialized")
	}
	if deployer == "" {
		return validationErr("deployer principal is empty")
	}

	if err := g.commit(ctx, EventInitialized, EventData{Principal: deployer}); err != nil {
		return err
	}
	g.log.Info("access gate initialized", zap.String("deployer", deployer))
	return nil
}

func (g *AccessGate) GrantRole(ctx context.Context, caller string, role Role, principal string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasRole(caller, RoleSuperAdmin) {
		return authorizationErr("caller %s lacks role %s", caller, RoleSuperAdmin)
	}
	if !ValidRole(role) {
		return validationErr("unknown role %q", role)
	}
	if principal == "" {
		return validationErr("principal is empty")
	}
	if g.hasRole(principal, role) {
		return conflictErr("principal %s already holds role %s", principal, role)
	}

	if err := g.commit(ctx, EventRoleGranted, EventData{Principal: principal, Role: string(role)}); err != nil {
		return err
	}
	g.log.Info("role granted", zap.String("role", string(role)), zap.String("principal", principal))
	return nil
}

func (g *AccessGate) RevokeRole(ctx context.Context, caller string, role Role, principal string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasRole(caller, RoleSuperAdmin) {
		return authorizationErr("caller %s lacks role %s", caller, RoleSuperAdmin)
	}
	if !g.hasRole(principal, role) {
		return notFoundErr("principal %s does not hold role %s", principal, role)
	}

	if err := g.commit(ctx, EventRoleRevoked, EventData{Principal: principal, Role: string(role)}); err != nil {
		return err
	}
	g.log.Info("role revoked", zap.String("role", string(role)), zap.String("principal", principal))
	return nil
}

// Pause flips the global switch. Role and pause administration itself stays
// available while paused.
func (g *AccessGate) Pause(ctx context.Context, caller string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasRole(caller, RoleAdmin) {
		return authorizationErr("caller %s lacks role %s", caller, RoleAdmin)
	}
	if g.paused {
		return conflictErr("already paused")
	}

	if err := g.commit(ctx, EventPaused, EventData{Principal: caller}); err != nil {
		return err
	}
	g.log.Warn("ledger paused", zap.String("by", caller))
	return nil
}

func (g *AccessGate) Unpause(ctx context.Context, caller string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasRole(caller, RoleAdmin) {
		return authorizationErr("caller %s lacks role %s", caller, RoleAdmin)
	}
	if !g.paused {
		return conflictErr("not paused")
	}

	if err := g.commit(ctx, EventUnpaused, EventData{Principal: caller}); err != nil {
		return err
	}
	g.log.Warn("ledger unpaused", zap.String("by", caller))
	return nil
}

// RequireRole aborts with an authorization error when the caller lacks the
// role. The single guard every role-gated operation goes through.
func (g *AccessGate) RequireRole(caller string, role Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasRole(caller, role) {
		return authorizationErr("caller %s lacks role %s", caller, role)
	}
	return nil
}

// RequireNotPaused aborts every mutating ledger operation while the gate is
// paused.
func (g *AccessGate) RequireNotPaused() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused {
		return authorizationErr("ledger is paused")
	}
	return nil
}

func (g *AccessGate) Initialized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq != 0
}

func (g *AccessGate) HasRole(principal string, role Role) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasRole(principal, role)
}

func (g *AccessGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Members returns the principals holding a role.
func (g *AccessGate) Members(role Role) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []string
	for p := range g.roles[role] {
		out = append(out, p)
	}
	return out
}

func (g *AccessGate) hasRole(principal string, role Role) bool {
	return g.roles[role][principal]
}

func (g *AccessGate) commit(ctx context.Context, t EventType, data EventData) error {
	e := Event{
		Seq:       g.seq + 1,
		Component: ComponentAccessGate,
		Type:      t,
		At:        time.Now().UTC(),
		Data:      data,
	}
	if err := g.journal.Append(ctx, []Event{e}); err != nil {
		return fmt.Errorf("append access gate journal: %w", err)
	}
	g.apply(e)
	return nil
}

func (g *AccessGate) apply(e Event) {
	g.seq = e.Seq

	switch e.Type {
	case EventInitialized:
		g.grant(RoleSuperAdmin, e.Data.Principal)
		g.grant(RoleAdmin, e.Data.Principal)
	case EventRoleGranted:
		g.grant(Role(e.Data.Role), e.Data.Principal)
	case EventRoleRevoked:
		delete(g.roles[Role(e.Data.Role)], e.Data.Principal)
	case EventPaused:
		g.paused = true
	case EventUnpaused:
		g.paused = false
	}
}

func (g *AccessGate) grant(role Role, principal string) {
	if g.roles[role] == nil {
		g.roles[role] = make(map[string]bool)
	}
	g.roles[role][principal] = true
}
