package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Full walk through the orchestrated sequence: register, quota check,
// upload, fee collection, usage update, second quota check, distribution.
func TestStorageLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	journal := NewMemoryJournal()
	log := zap.NewNop()

	gate := NewAccessGate(journal, log)
	require.NoError(t, gate.Init(ctx, deployer))
	require.NoError(t, gate.GrantRole(ctx, deployer, RoleVerifier, svc))
	require.NoError(t, gate.GrantRole(ctx, deployer, RoleFeeManager, svc))

	users := NewUserRegistry(gate, journal, log)
	require.NoError(t, users.Init(ctx, 1000))
	files := NewFileRegistry(gate, journal, log)
	fees := NewFeeLedger(gate, journal, log)
	require.NoError(t, fees.Init(ctx, FeeConfig{BaseStorageFee: 10, NetworkFee: 1000, SharingFee: 500, MinimumFee: 2000}, treasury, 0))

	// Alice registers and gets the default quota.
	require.NoError(t, users.Register(ctx, alice, "alice"))
	p, err := users.GetUserProfile(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), p.StorageLimit)
	assert.Equal(t, uint64(0), p.UsedStorage)

	// Quota check passes for a 500-byte store.
	require.True(t, users.CanStoreData(alice, 500))

	// Upload the file record.
	id, err := files.UploadFile(ctx, alice, "deadbeef")
	require.NoError(t, err)

	// Fee for 500 bytes: 500*10+1000, above the minimum.
	fee := fees.CalculateStorageFee(500)
	assert.Equal(t, uint64(6000), fee)

	require.NoError(t, fees.Deposit(ctx, alice, 10000))
	require.NoError(t, fees.CollectFee(ctx, svc, alice, fee, fee, "storage"))
	assert.Equal(t, uint64(4000), fees.BalanceOf(alice))
	assert.Equal(t, fee, fees.UndistributedBalance())

	// Verifier records the new usage.
	require.NoError(t, users.UpdateUsedStorage(ctx, svc, alice, 500))

	// A 600-byte store no longer fits.
	assert.False(t, users.CanStoreData(alice, 600))
	assert.True(t, users.CanStoreData(alice, 500))

	// Sharing costs the flat sharing fee.
	require.NoError(t, files.ShareFile(ctx, alice, id, bob))
	sharingFee := fees.GetSharingFee()
	require.NoError(t, fees.CollectFee(ctx, svc, alice, sharingFee, sharingFee, "sharing"))

	// Admin sweeps everything to the treasury.
	require.NoError(t, fees.DistributeFees(ctx, deployer))
	assert.Equal(t, uint64(0), fees.UndistributedBalance())
	assert.Equal(t, uint64(6500), fees.BalanceOf(treasury))

	// Everything above replays to the same state.
	for _, restore := range []interface {
		Restore(context.Context) error
	}{
		NewAccessGate(journal, log),
		NewUserRegistry(gate, journal, log),
		NewFileRegistry(gate, journal, log),
		NewFeeLedger(gate, journal, log),
	} {
		require.NoError(t, restore.Restore(ctx))
	}
}
