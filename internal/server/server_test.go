package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowlink/internal/chaintest"
	"escrowlink/internal/config"
	"escrowlink/internal/contracts"
	"escrowlink/internal/escrow"
	"escrowlink/internal/hmacauth"
	"escrowlink/internal/idempotency"
)

const (
	testSecret = "test-secret"
	vendorHex  = "0x1111111111111111111111111111111111111111"
)

type fixture struct {
	srv     *Server
	backend *chaintest.Backend
	store   *idempotency.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.AppConfig{
		Service: config.ServiceConfig{
			HMACSecret:        testSecret,
			HMACClockSkew:     time.Minute,
			IdempotencyWindow: time.Minute,
		},
		Chain: config.ChainConfig{
			ContractAddress: contracts.DefaultAddress,
			CurrencySymbol:  "ETH",
			Decimals:        18,
		},
	}

	desc, err := contracts.NewDescriptor(contracts.DefaultAddress)
	require.NoError(t, err)
	backend := chaintest.NewBackend(desc.ABI, 1337)
	sess, err := chaintest.Session(context.Background(), backend)
	require.NoError(t, err)
	client, err := escrow.NewEthClient(sess, escrow.EthClientConfig{
		ContractAddress: contracts.DefaultAddress,
		PollInterval:    time.Millisecond,
	})
	require.NoError(t, err)

	store := idempotency.NewMemoryStore()
	return &fixture{
		srv:     NewServer(cfg, client, store, nil),
		backend: backend,
		store:   store,
	}
}

func signedRequest(t *testing.T, path, key string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(hmacauth.DefaultTimestampHeader, ts)
	req.Header.Set(hmacauth.DefaultSignatureHeader, hmacauth.Sign(testSecret, ts, body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateMilestoneIdempotency(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"description":"Build shed","amount":"1.5","vendor":"` + vendorHex + `"}`)

	first := f.do(signedRequest(t, "/api/v1/milestones", "key-1", body))
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	var resp submissionResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp.Status)
	assert.Equal(t, contracts.MethodAddMilestone, resp.Operation)
	assert.NotEmpty(t, resp.TxHash)

	second := f.do(signedRequest(t, "/api/v1/milestones", "key-1", body))
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())

	sent := f.backend.Submitted()
	require.Len(t, sent, 1)
	assert.Equal(t, "1500000000000000000", sent[0].Args[1].(*big.Int).String())

	rec, err := f.store.Get(context.Background(), "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, resp.TxHash, rec.TxHash)
}

func TestIdempotencyKeyReusedForDifferentRequest(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"description":"Build shed","amount":"1","vendor":"` + vendorHex + `"}`)
	require.Equal(t, http.StatusCreated, f.do(signedRequest(t, "/api/v1/milestones", "key-1", body)).Code)

	other := []byte(`{"description":"Paint shed","amount":"1","vendor":"` + vendorHex + `"}`)
	rec := f.do(signedRequest(t, "/api/v1/milestones", "key-1", other))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Len(t, f.backend.Submitted(), 1)
}

func TestSubmitRequiresIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	rec := f.do(signedRequest(t, "/api/v1/milestones/0/release-initial", "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.backend.Submitted())
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	req := signedRequest(t, "/api/v1/fund", "key-1", []byte(`{"amount":"1"}`))
	req.Header.Set(hmacauth.DefaultSignatureHeader, strings.Repeat("0", 64))

	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.backend.Submitted())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		prepare func(b *chaintest.Backend)
		status  int
		code    string
		stored  bool
	}{
		{
			name:   "bad amount",
			path:   "/api/v1/fund",
			body:   `{"amount":"1e18"}`,
			status: http.StatusBadRequest,
			code:   "amount_format",
		},
		{
			name:   "bad id",
			path:   "/api/v1/milestones/abc/release-final",
			status: http.StatusBadRequest,
			code:   "invalid_argument",
		},
		{
			name: "revert at estimation",
			path: "/api/v1/milestones/3/release-initial",
			prepare: func(b *chaintest.Backend) {
				b.EstimateErr = chaintest.RevertError{Reason: "Initial already paid"}
			},
			status: http.StatusConflict,
			code:   "transaction_reverted",
		},
		{
			name: "mined revert",
			path: "/api/v1/milestones/3/proof",
			body: `{"ipfsHash":"QmProof"}`,
			prepare: func(b *chaintest.Backend) {
				b.ReceiptStatus = types.ReceiptStatusFailed
			},
			status: http.StatusConflict,
			code:   "transaction_reverted",
			stored: true,
		},
		{
			name: "node rejects",
			path: "/api/v1/vendors",
			body: `{"address":"` + vendorHex + `","name":"Acme","category":"materials"}`,
			prepare: func(b *chaintest.Backend) {
				b.SendErr = assert.AnError
			},
			status: http.StatusBadGateway,
			code:   "transaction_rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.prepare != nil {
				tt.prepare(f.backend)
			}
			rec := f.do(signedRequest(t, tt.path, "key-"+tt.name, []byte(tt.body)))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)

			stored, err := f.store.Get(context.Background(), "key-"+tt.name)
			require.NoError(t, err)
			if !tt.stored {
				assert.Nil(t, stored)
				return
			}
			require.NotNil(t, stored)
			assert.False(t, stored.Pending())
			assert.Equal(t, tt.status, stored.StatusCode)
			assert.Equal(t, resp.TxHash, stored.TxHash)
		})
	}
}

func TestFailedSubmissionCanBeRetriedWithSameKey(t *testing.T) {
	f := newFixture(t)
	f.backend.SendErr = assert.AnError

	body := []byte(`{"amount":"0.25"}`)
	require.Equal(t, http.StatusBadGateway, f.do(signedRequest(t, "/api/v1/fund", "fund-1", body)).Code)

	f.backend.SendErr = nil
	rec := f.do(signedRequest(t, "/api/v1/fund", "fund-1", body))
	require.Equal(t, http.StatusOK, rec.Code)

	sent := f.backend.Submitted()
	require.Len(t, sent, 1)
	assert.Equal(t, "250000000000000000", sent[0].Value.String())
}

func TestMinedRevertIsReplayed(t *testing.T) {
	f := newFixture(t)
	f.backend.ReceiptStatus = types.ReceiptStatusFailed

	first := f.do(signedRequest(t, "/api/v1/milestones/3/release-final", "rel-1", nil))
	require.Equal(t, http.StatusConflict, first.Code)

	f.backend.ReceiptStatus = types.ReceiptStatusSuccessful
	second := f.do(signedRequest(t, "/api/v1/milestones/3/release-final", "rel-1", nil))
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Len(t, f.backend.Submitted(), 1)
}

func TestInterruptedSubmissionResumesOnRetry(t *testing.T) {
	f := newFixture(t)
	f.backend.HoldReceipts()
	body := []byte(`{"description":"Build shed","amount":"1.5","vendor":"` + vendorHex + `"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := signedRequest(t, "/api/v1/milestones", "key-1", body).WithContext(ctx)
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- f.do(req)
	}()

	// The hash is recorded while the first request still waits for a receipt.
	require.Eventually(t, func() bool {
		rec, err := f.store.Get(context.Background(), "key-1")
		return err == nil && rec != nil && rec.TxHash != ""
	}, 2*time.Second, time.Millisecond)

	busy := f.do(signedRequest(t, "/api/v1/milestones", "key-1", body))
	require.Equal(t, http.StatusConflict, busy.Code)
	var busyResp errorResponse
	require.NoError(t, json.Unmarshal(busy.Body.Bytes(), &busyResp))
	assert.Equal(t, "in_progress", busyResp.Code)

	cancel()
	first := <-done
	require.Equal(t, http.StatusAccepted, first.Code, first.Body.String())
	var pending errorResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &pending))
	assert.Equal(t, "confirmation_pending", pending.Code)
	require.NotEmpty(t, pending.TxHash)

	rec, err := f.store.Get(context.Background(), "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Pending())
	assert.Equal(t, pending.TxHash, rec.TxHash)

	f.backend.ReleaseReceipts()
	retry := f.do(signedRequest(t, "/api/v1/milestones", "key-1", body))
	require.Equal(t, http.StatusCreated, retry.Code, retry.Body.String())
	var resp submissionResponse
	require.NoError(t, json.Unmarshal(retry.Body.Bytes(), &resp))
	assert.Equal(t, pending.TxHash, resp.TxHash)
	assert.Equal(t, contracts.MethodAddMilestone, resp.Operation)

	require.Len(t, f.backend.Submitted(), 1)

	rec, err = f.store.Get(context.Background(), "key-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Pending())

	replay := f.do(signedRequest(t, "/api/v1/milestones", "key-1", body))
	assert.Equal(t, retry.Body.Bytes(), replay.Body.Bytes())
	assert.Len(t, f.backend.Submitted(), 1)
}

func TestReservedKeyWithoutHashIsInProgress(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"amount":"1"}`)

	// Another instance reserved the key and has not broadcast yet.
	_, reserved, err := f.store.Reserve(context.Background(), "fund-1", idempotency.Record{
		Operation:   contracts.MethodReceive,
		Fingerprint: idempotency.Fingerprint(contracts.MethodReceive+" /api/v1/fund", body),
		State:       idempotency.StatePending,
		ExpiresAt:   time.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	require.True(t, reserved)

	rec := f.do(signedRequest(t, "/api/v1/fund", "fund-1", body))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "in_progress")
	assert.Empty(t, f.backend.Submitted())
}

func TestAmountsUseClientDecimals(t *testing.T) {
	f := newFixture(t)
	cfg := *f.srv.cfg
	cfg.Chain.Decimals = 6
	srv := NewServer(&cfg, f.srv.escrow, f.store, nil)

	f.backend.Respond(contracts.MethodGetBalance, big.NewInt(1500000000000000000))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp amountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1.5", resp.Formatted)
}

func TestReadsAreNotCached(t *testing.T) {
	f := newFixture(t)

	f.backend.Respond(contracts.MethodGetBalance, big.NewInt(1500000000000000000))
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var first amountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, "1500000000000000000", first.Amount)
	assert.Equal(t, "1.5", first.Formatted)
	assert.Equal(t, "ETH", first.Symbol)

	f.backend.Respond(contracts.MethodGetBalance, big.NewInt(0))
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))
	var second amountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, "0", second.Amount)

	assert.Len(t, f.backend.ViewCalls(), 2)
}

func TestGetMilestoneVerbatim(t *testing.T) {
	f := newFixture(t)
	vendor := common.HexToAddress(vendorHex)
	f.backend.Respond(contracts.MethodMilestones, "Roof", big.NewInt(2000000000000000000), vendor, "", false, true, false)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/milestones/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var m milestoneResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "7", m.ID)
	assert.Equal(t, "Roof", m.Description)
	assert.Equal(t, "2", m.TotalAmountFormatted)
	assert.Equal(t, vendor.Hex(), m.Vendor)
	assert.False(t, m.IsInitialPaid)
	assert.True(t, m.IsFinalPaid)
}

func TestVendorOwnerAndNextID(t *testing.T) {
	f := newFixture(t)
	owner := common.HexToAddress("0x2222222222222222222222222222222222222222")
	f.backend.Respond(contracts.MethodVendorRegistry, "Acme Timber", "materials", true)
	f.backend.Respond(contracts.MethodOwner, owner)
	f.backend.Respond(contracts.MethodNextMilestoneID, big.NewInt(4))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/vendors/"+vendorHex, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var v vendorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "Acme Timber", v.Name)
	assert.True(t, v.IsVerified)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/owner", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), owner.Hex())

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/milestones/next-id", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"nextMilestoneId":"4"`)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/vendors/not-an-address", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndRequestID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec = f.do(req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestMetricsExposeSubmissions(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"amount":"1"}`)
	require.Equal(t, http.StatusOK, f.do(signedRequest(t, "/api/v1/fund", "fund-1", body)).Code)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `escrowlink_submissions_total{method="receive",status="confirmed"} 1`)
	assert.Contains(t, rec.Body.String(), "escrowlink_confirmation_seconds")
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t)
	f.srv.limiter = newSubmitLimiter(0.001, 1)

	body := []byte(`{"amount":"1"}`)
	require.Equal(t, http.StatusOK, f.do(signedRequest(t, "/api/v1/fund", "a", body)).Code)
	rec := f.do(signedRequest(t, "/api/v1/fund", "b", body))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Len(t, f.backend.Submitted(), 1)
}
