package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/rollback-manager/x/rollback"
)

var (
	adminAddr    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	guardianAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// stubBackend accepts everything and keys batches by description hash.
type stubBackend struct {
	mu    sync.Mutex
	delay time.Duration
	data  []byte
}

func (s *stubBackend) Delay(context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay, nil
}

func (s *stubBackend) Identifier(batch rollback.Batch) (common.Hash, error) {
	return crypto.Keccak256Hash([]byte(batch.Description)), nil
}

func (s *stubBackend) QueueBatch(context.Context, rollback.Batch, time.Time) error  { return nil }
func (s *stubBackend) CancelBatch(context.Context, rollback.Batch, time.Time) error { return nil }

func (s *stubBackend) ExecuteBatch(context.Context, rollback.Batch, time.Time) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, nil
}

type handlerFixture struct {
	router *mux.Router
	clock  *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
	mgr, err := rollback.New(rollback.Config{
		Backend:              &stubBackend{delay: time.Hour, data: []byte{0x01}},
		Admin:                adminAddr,
		Guardian:             guardianAddr,
		QueueableDuration:    24 * time.Hour,
		MinQueueableDuration: time.Hour,
		Now:                  clock.Now,
	})
	require.NoError(t, err)

	router := mux.NewRouter()
	NewHandler(mgr, zerolog.Nop()).RegisterMux(router)
	return &handlerFixture{router: router, clock: clock}
}

func (f *handlerFixture) do(t *testing.T, method, path string, caller common.Address, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if caller != (common.Address{}) {
		req.Header.Set(CallerHeader, caller.Hex())
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func batchBody(description string) batchRequest {
	return batchRequest{
		Targets:     []string{"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		Values:      []string{"0"},
		Payloads:    []string{"0x0102"},
		Description: description,
	}
}

func decodeID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id, ok := resp["id"].(string)
	require.True(t, ok, "response %s has no id", w.Body.String())
	return id
}

func TestHandlerProposeQueueExecute(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	body := batchBody("full lifecycle")

	w := f.do(t, http.MethodPost, "/v1/rollbacks", adminAddr, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeID(t, w)

	w = f.do(t, http.MethodPost, "/v1/rollbacks/queue", guardianAddr, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, id, decodeID(t, w))

	// Still queued: execution is too early.
	w = f.do(t, http.MethodPost, "/v1/rollbacks/execute", guardianAddr, body)
	require.Equal(t, http.StatusTooEarly, w.Code, w.Body.String())

	f.clock.Advance(time.Hour)
	w = f.do(t, http.MethodPost, "/v1/rollbacks/execute", guardianAddr, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var execResp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &execResp))
	require.Equal(t, "0x01", execResp["return_data"])

	// The record endpoint reflects the executed state.
	w = f.do(t, http.MethodGet, "/v1/rollbacks/"+id, common.Address{}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rec map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.Equal(t, "executed", rec["state"])
	require.Equal(t, true, rec["executed"])
}

func TestHandlerCallerHeader(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	body := batchBody("caller checks")

	// Missing header.
	w := f.do(t, http.MethodPost, "/v1/rollbacks", common.Address{}, body)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Garbage header.
	req := httptest.NewRequest(http.MethodPost, "/v1/rollbacks", bytes.NewBufferString("{}"))
	req.Header.Set(CallerHeader, "not-an-address")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Wrong role.
	w = f.do(t, http.MethodPost, "/v1/rollbacks", guardianAddr, body)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlerStatusMapping(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)

	// Queue before propose: 404.
	w := f.do(t, http.MethodPost, "/v1/rollbacks/queue", guardianAddr, batchBody("never proposed"))
	require.Equal(t, http.StatusNotFound, w.Code)

	// Cancel before queue: 409.
	w = f.do(t, http.MethodPost, "/v1/rollbacks/cancel", guardianAddr, batchBody("never proposed"))
	require.Equal(t, http.StatusConflict, w.Code)

	// Double propose: 409.
	body := batchBody("duplicate")
	w = f.do(t, http.MethodPost, "/v1/rollbacks", adminAddr, body)
	require.Equal(t, http.StatusCreated, w.Code)
	w = f.do(t, http.MethodPost, "/v1/rollbacks", adminAddr, body)
	require.Equal(t, http.StatusConflict, w.Code)

	// Expired window: 410.
	f.clock.Advance(24 * time.Hour)
	w = f.do(t, http.MethodPost, "/v1/rollbacks/queue", guardianAddr, body)
	require.Equal(t, http.StatusGone, w.Code)

	// Mismatched slices: 400.
	bad := batchBody("bad shapes")
	bad.Values = append(bad.Values, "1")
	w = f.do(t, http.MethodPost, "/v1/rollbacks", adminAddr, bad)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerBatchDecoding(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)

	bad := batchBody("bad target")
	bad.Targets = []string{"nope"}
	w := f.do(t, http.MethodPost, "/v1/rollbacks", adminAddr, bad)
	require.Equal(t, http.StatusBadRequest, w.Code)

	bad = batchBody("bad value")
	bad.Values = []string{"-5"}
	w = f.do(t, http.MethodPost, "/v1/rollbacks", adminAddr, bad)
	require.Equal(t, http.StatusBadRequest, w.Code)

	bad = batchBody("bad payload")
	bad.Payloads = []string{"0xzz"}
	w = f.do(t, http.MethodPost, "/v1/rollbacks", adminAddr, bad)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Empty value and payload strings default to zero and empty calldata.
	ok := batchBody("empty defaults")
	ok.Values = []string{""}
	ok.Payloads = []string{""}
	w = f.do(t, http.MethodPost, "/v1/rollbacks", adminAddr, ok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHandlerGetRollback(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)

	w := f.do(t, http.MethodGet, "/v1/rollbacks/0x12", common.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code, "short ids must be rejected")

	unknown := crypto.Keccak256Hash([]byte("unknown")).Hex()
	w = f.do(t, http.MethodGet, "/v1/rollbacks/"+unknown, common.Address{}, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	body := batchBody("lookup me")
	w = f.do(t, http.MethodPost, "/v1/rollbacks", adminAddr, body)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeID(t, w)

	w = f.do(t, http.MethodGet, "/v1/rollbacks/"+id, common.Address{}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.Equal(t, "pending", rec["state"])
	require.NotEmpty(t, rec["queue_expires_at"])
}

func TestHandlerListRollbacks(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)

	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/v1/rollbacks", adminAddr, batchBody(fmt.Sprintf("batch %d", i)))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := f.do(t, http.MethodGet, "/v1/rollbacks", common.Address{}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.IDs, 3)
}

func TestHandlerRolesAndPolicy(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)

	w := f.do(t, http.MethodGet, "/v1/roles", common.Address{}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var roles map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roles))
	require.Equal(t, adminAddr.Hex(), roles["admin"])
	require.Equal(t, guardianAddr.Hex(), roles["guardian"])

	// Guardian may not rotate roles.
	w = f.do(t, http.MethodPut, "/v1/roles/admin", guardianAddr, setAddressRequest{Address: guardianAddr.Hex()})
	require.Equal(t, http.StatusForbidden, w.Code)

	// Zero or malformed addresses are rejected before reaching the manager.
	w = f.do(t, http.MethodPut, "/v1/roles/guardian", adminAddr, setAddressRequest{Address: "nope"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	newGuardian := common.HexToAddress("0x5555555555555555555555555555555555555555")
	w = f.do(t, http.MethodPut, "/v1/roles/guardian", adminAddr, setAddressRequest{Address: newGuardian.Hex()})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/v1/roles", common.Address{}, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roles))
	require.Equal(t, newGuardian.Hex(), roles["guardian"])

	// Duration below the floor is rejected with a 400.
	w = f.do(t, http.MethodPut, "/v1/policy/queueable-duration", adminAddr, setDurationRequest{Duration: "30m"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Unparseable duration is a 400 too.
	w = f.do(t, http.MethodPut, "/v1/policy/queueable-duration", adminAddr, setDurationRequest{Duration: "soon"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/v1/policy/queueable-duration", adminAddr, setDurationRequest{Duration: "2h"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/v1/roles", common.Address{}, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roles))
	require.Equal(t, "2h0m0s", roles["queueable_duration"])
}

func TestHandlerCancelFlow(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	body := batchBody("cancel over http")

	w := f.do(t, http.MethodPost, "/v1/rollbacks", adminAddr, body)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeID(t, w)

	w = f.do(t, http.MethodPost, "/v1/rollbacks/queue", guardianAddr, body)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/v1/rollbacks/cancel", guardianAddr, body)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, id, decodeID(t, w))

	w = f.do(t, http.MethodGet, "/v1/rollbacks/"+id, common.Address{}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.Equal(t, "canceled", rec["state"])
}
