package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hashvault.io/internal/auth"
	"hashvault.io/internal/ledger"
	"hashvault.io/internal/middleware"
	"hashvault.io/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret   = "test-secret"
	testDeployer = "0xd001"
	testAlice    = "0xa11ce"
	testBob      = "0xb0b1"
	testService  = "0x5e41ce"
	testTreasury = "0x74ea5"
)

type testEnv struct {
	gate   *ledger.AccessGate
	users  *ledger.UserRegistry
	files  *ledger.FileRegistry
	fees   *ledger.FeeLedger
	router *chi.Mux
}

// newTestEnv stands up the full route tree against a memory journal and a
// temp-dir blob store, bootstrapped the same way the server does it.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop()
	journal := ledger.NewMemoryJournal()

	gate := ledger.NewAccessGate(journal, log)
	require.NoError(t, gate.Init(ctx, testDeployer))
	require.NoError(t, gate.GrantRole(ctx, testDeployer, ledger.RoleVerifier, testService))
	require.NoError(t, gate.GrantRole(ctx, testDeployer, ledger.RoleFeeManager, testService))

	users := ledger.NewUserRegistry(gate, journal, log)
	require.NoError(t, users.Init(ctx, 1000))
	files := ledger.NewFileRegistry(gate, journal, log)
	fees := ledger.NewFeeLedger(gate, journal, log)
	require.NoError(t, fees.Init(ctx, ledger.FeeConfig{
		BaseStorageFee: 10,
		NetworkFee:     1000,
		SharingFee:     500,
		MinimumFee:     2000,
	}, testTreasury, 0))

	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	gateHandler := NewGateHandler(gate, journal, log)
	filesHandler := NewFilesHandler(files, log)
	usersHandler := NewUsersHandler(users, log)
	feesHandler := NewFeesHandler(fees, log)
	contentHandler := NewContentHandler(blobs, log)
	storeHandler := NewStoreHandler(users, files, fees, blobs, testService, log)

	r := chi.NewRouter()

	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/status", gateHandler.Status)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(testSecret))
			r.Post("/roles/grant", gateHandler.GrantRole)
			r.Post("/roles/revoke", gateHandler.RevokeRole)
			r.Get("/roles/{role}", gateHandler.ListMembers)
			r.Post("/pause", gateHandler.Pause)
			r.Post("/unpause", gateHandler.Unpause)
			r.Get("/events", gateHandler.Events)
		})
	})

	r.Route("/api/files", func(r chi.Router) {
		r.Get("/total", filesHandler.Total)
		r.Get("/owner/{principal}", filesHandler.ListByOwner)
		r.Get("/{id}/access", filesHandler.HasAccess)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(testSecret))
			r.Post("/", filesHandler.Upload)
			r.Get("/{id}", filesHandler.Get)
			r.Delete("/{id}", filesHandler.Delete)
			r.Post("/{id}/share", filesHandler.Share)
			r.Delete("/{id}/share/{grantee}", filesHandler.Unshare)
		})
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Get("/by-username/{username}", usersHandler.GetByUsername)
		r.Get("/{principal}", usersHandler.Get)
		r.Get("/{principal}/can-store", usersHandler.CanStore)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(testSecret))
			r.Post("/register", usersHandler.Register)
			r.Put("/default-storage-limit", usersHandler.UpdateDefaultStorageLimit)
			r.Put("/{principal}/used-storage", usersHandler.UpdateUsedStorage)
			r.Put("/{principal}/storage-limit", usersHandler.UpdateStorageLimit)
		})
	})

	r.Route("/api/fees", func(r chi.Router) {
		r.Get("/config", feesHandler.GetConfig)
		r.Get("/storage-fee", feesHandler.StorageFee)
		r.Get("/sharing-fee", feesHandler.SharingFee)
		r.Get("/quote/{principal}", feesHandler.Quote)
		r.Get("/balance/{principal}", feesHandler.Balance)
		r.Get("/undistributed", feesHandler.Undistributed)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(testSecret))
			r.Post("/deposit", feesHandler.Deposit)
			r.Post("/collect", feesHandler.Collect)
			r.Post("/distribute", feesHandler.Distribute)
			r.Put("/config", feesHandler.UpdateConfig)
			r.Put("/treasury", feesHandler.UpdateTreasury)
			r.Post("/discounts", feesHandler.AddDiscount)
			r.Delete("/discounts/{principal}", feesHandler.RemoveDiscount)
			r.Put("/discount-percentage", feesHandler.UpdateDiscountPercentage)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(testSecret))
		r.Post("/api/content", contentHandler.Put)
		r.Get("/api/content/{hash}", contentHandler.Get)
		r.Post("/api/store", storeHandler.Store)
	})

	return &testEnv{gate: gate, users: users, files: files, fees: fees, router: r}
}

// do issues a request through the router. An empty principal leaves the
// request unauthenticated.
func (e *testEnv) do(t *testing.T, method, path, principal string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if principal != "" {
		token, err := auth.GenerateToken(principal, testSecret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestFilesEndpoints(t *testing.T) {
	env := newTestEnv(t)

	// unauthenticated upload is rejected before the ledger sees it
	rec := env.do(t, http.MethodPost, "/api/files/", "", UploadFileRequest{ContentHash: "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/files/", testAlice, UploadFileRequest{ContentHash: "not hex"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/files/", testAlice, UploadFileRequest{ContentHash: "deadbeef"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	decodeBody(t, rec, &created)
	id := created["id"]
	require.NotEmpty(t, id)

	// owner reads it back
	rec = env.do(t, http.MethodGet, "/api/files/"+id, testAlice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var file FileResponse
	decodeBody(t, rec, &file)
	assert.Equal(t, "deadbeef", file.ContentHash)
	assert.Equal(t, testAlice, file.Owner)

	// a stranger cannot
	rec = env.do(t, http.MethodGet, "/api/files/"+id, testBob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// until the owner shares
	rec = env.do(t, http.MethodPost, "/api/files/"+id+"/share", testAlice, ShareRequest{Grantee: testBob})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/files/"+id, testBob, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// open access-check endpoint agrees
	rec = env.do(t, http.MethodGet, "/api/files/"+id+"/access?principal="+testBob, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var access map[string]bool
	decodeBody(t, rec, &access)
	assert.True(t, access["has_access"])

	rec = env.do(t, http.MethodDelete, "/api/files/"+id+"/share/"+testBob, testAlice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/files/"+id, testBob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/files/total", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var total map[string]uint64
	decodeBody(t, rec, &total)
	assert.Equal(t, uint64(1), total["total"])

	// only the owner deletes
	rec = env.do(t, http.MethodDelete, "/api/files/"+id, testBob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/files/"+id, testAlice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/files/"+id, testAlice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsersEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/users/register", testAlice, RegisterRequest{Username: "alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var profile ProfileResponse
	decodeBody(t, rec, &profile)
	assert.Equal(t, testAlice, profile.Principal)
	assert.Equal(t, uint64(1000), profile.StorageLimit)

	// double registration and a taken username both conflict
	rec = env.do(t, http.MethodPost, "/api/users/register", testAlice, RegisterRequest{Username: "alice2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/users/register", testBob, RegisterRequest{Username: "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/users/by-username/alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lookup map[string]string
	decodeBody(t, rec, &lookup)
	assert.Equal(t, testAlice, lookup["principal"])

	rec = env.do(t, http.MethodGet, "/api/users/0xdead", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/users/"+testAlice+"/can-store?size=500", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var can map[string]bool
	decodeBody(t, rec, &can)
	assert.True(t, can["can_store"])

	// usage updates are verifier-only
	rec = env.do(t, http.MethodPut, "/api/users/"+testAlice+"/used-storage", testAlice, StorageUpdateRequest{Value: 100})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/users/"+testAlice+"/used-storage", testService, StorageUpdateRequest{Value: 600})
	assert.Equal(t, http.StatusOK, rec.Code)

	// usage above the limit is a validation failure
	rec = env.do(t, http.MethodPut, "/api/users/"+testAlice+"/used-storage", testService, StorageUpdateRequest{Value: 1100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeesEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/fees/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg FeeConfigResponse
	decodeBody(t, rec, &cfg)
	assert.Equal(t, uint64(10), cfg.BaseStorageFee)
	assert.Equal(t, testTreasury, cfg.Treasury)

	rec = env.do(t, http.MethodGet, "/api/fees/storage-fee?size=500", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fee map[string]uint64
	decodeBody(t, rec, &fee)
	assert.Equal(t, uint64(6000), fee["fee"])

	rec = env.do(t, http.MethodPost, "/api/fees/deposit", testBob, DepositRequest{Amount: 150})
	require.Equal(t, http.StatusOK, rec.Code)
	var balance map[string]uint64
	decodeBody(t, rec, &balance)
	assert.Equal(t, uint64(150), balance["balance"])

	// collection is fee-manager gated
	rec = env.do(t, http.MethodPost, "/api/fees/collect", testBob,
		CollectFeeRequest{Payer: testBob, Amount: 100, Attached: 150, FeeType: "storage"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// attached value below the fee is a financial failure
	rec = env.do(t, http.MethodPost, "/api/fees/collect", testService,
		CollectFeeRequest{Payer: testBob, Amount: 100, Attached: 99, FeeType: "storage"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/fees/collect", testService,
		CollectFeeRequest{Payer: testBob, Amount: 100, Attached: 150, FeeType: "storage"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(50), env.fees.BalanceOf(testBob))

	// distribution is admin-only and sweeps to the treasury
	rec = env.do(t, http.MethodPost, "/api/fees/distribute", testService, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/fees/distribute", testDeployer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/fees/balance/"+testTreasury, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var treasuryBalance struct {
		Balance uint64 `json:"balance"`
	}
	decodeBody(t, rec, &treasuryBalance)
	assert.Equal(t, uint64(100), treasuryBalance.Balance)

	rec = env.do(t, http.MethodGet, "/api/fees/undistributed", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var undistributed map[string]uint64
	decodeBody(t, rec, &undistributed)
	assert.Equal(t, uint64(0), undistributed["undistributed"])
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/admin/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]bool
	decodeBody(t, rec, &status)
	assert.False(t, status["paused"])

	// role grants need the super-admin
	rec = env.do(t, http.MethodPost, "/api/admin/roles/grant", testAlice,
		RoleRequest{Role: "operator", Principal: testBob})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/admin/roles/grant", testDeployer,
		RoleRequest{Role: "operator", Principal: testBob})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/roles/operator", testDeployer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var members struct {
		Members []string `json:"members"`
	}
	decodeBody(t, rec, &members)
	assert.Contains(t, members.Members, testBob)

	rec = env.do(t, http.MethodGet, "/api/admin/roles/archmage", testDeployer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the audit tail is admin-only
	rec = env.do(t, http.MethodGet, "/api/admin/events", testBob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/admin/events?limit=5", testDeployer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []ledger.Event
	decodeBody(t, rec, &events)
	assert.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), 5)

	// pause blocks mutations across components with a 403
	rec = env.do(t, http.MethodPost, "/api/admin/pause", testDeployer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/files/", testAlice, UploadFileRequest{ContentHash: "deadbeef"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/admin/unpause", testDeployer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/files/", testAlice, UploadFileRequest{ContentHash: "deadbeef"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestContentEndpoints(t *testing.T) {
	env := newTestEnv(t)
	data := []byte("content bytes worth keeping")

	rec := env.do(t, http.MethodPost, "/api/content", testAlice, data)
	require.Equal(t, http.StatusCreated, rec.Code)
	var put struct {
		ContentHash string `json:"content_hash"`
		Size        int64  `json:"size"`
	}
	decodeBody(t, rec, &put)
	assert.Equal(t, int64(len(data)), put.Size)

	rec = env.do(t, http.MethodGet, "/api/content/"+put.ContentHash, testAlice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())

	rec = env.do(t, http.MethodGet, "/api/content/"+put.ContentHash[:10]+"ffffffffff", testAlice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/content", testAlice, []byte{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoreFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/users/register", testAlice, RegisterRequest{Username: "alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/fees/deposit", testAlice, DepositRequest{Amount: 100000})
	require.Equal(t, http.StatusOK, rec.Code)

	data := bytes.Repeat([]byte{0x42}, 500)
	rec = env.do(t, http.MethodPost, "/api/store", testAlice, data)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var stored StoreResponse
	decodeBody(t, rec, &stored)
	assert.Equal(t, int64(500), stored.Size)
	assert.Equal(t, uint64(6000), stored.Fee) // 500*10+1000
	assert.NotEmpty(t, stored.ID)

	// usage and fee pool both moved
	profile, err := env.users.GetUserProfile(testAlice)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), profile.UsedStorage)
	assert.Equal(t, uint64(100000-6000), env.fees.BalanceOf(testAlice))
	assert.Equal(t, uint64(6000), env.fees.UndistributedBalance())

	// the bytes are retrievable by the returned hash
	rec = env.do(t, http.MethodGet, "/api/content/"+stored.ContentHash, testAlice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())

	// a second store that would overflow the quota is refused up front
	rec = env.do(t, http.MethodPost, "/api/store", testAlice, bytes.Repeat([]byte{0x43}, 600))
	assert.Equal(t, http.StatusInsufficientStorage, rec.Code)
	assert.Equal(t, uint64(1), env.files.GetTotalFiles())
}

func TestStoreFlowUnpaidUploadRolledBack(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/users/register", testBob, RegisterRequest{Username: "bob"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// no deposit: the fee leg fails and the file record must not survive
	rec = env.do(t, http.MethodPost, "/api/store", testBob, []byte("ten bytes!"))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	assert.Equal(t, uint64(0), env.files.GetTotalFiles())
	profile, err := env.users.GetUserProfile(testBob)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), profile.UsedStorage)
}

func TestErrorKindField(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/users/0xdead", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "not_found", resp.Kind)
	assert.NotEmpty(t, resp.Error)

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/users/%s/used-storage", testBob), testBob, StorageUpdateRequest{Value: 1})
	require.Equal(t, http.StatusForbidden, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Equal(t, "authorization", resp.Kind)
}
