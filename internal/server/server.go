package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"escrowlink/internal/config"
	"escrowlink/internal/contracts"
	"escrowlink/internal/escrow"
	"escrowlink/internal/hmacauth"
	"escrowlink/internal/idempotency"
	"escrowlink/internal/units"
)

const (
	idempotencyHeader = "X-Idempotency-Key"
	requestIDHeader   = "X-Request-Id"
	maxBodyBytes      = 64 << 10
)

type Server struct {
	cfg         *config.AppConfig
	escrow      escrow.Client
	store       idempotency.Store
	hmac        *hmacauth.Verifier
	limiter     *submitLimiter
	decimals    int
	httpServer  *http.Server
	metrics     *metricsRegistry
	logger      *slog.Logger
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func NewServer(cfg *config.AppConfig, esc escrow.Client, store idempotency.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		escrow: esc,
		store:  store,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		limiter:  newSubmitLimiter(cfg.Service.SubmitRateLimit, cfg.Service.SubmitBurst),
		decimals: cfg.Chain.Decimals,
		metrics:  newMetricsRegistry(),
		logger:   logger.With("component", "api"),
		inflight: make(map[string]struct{}),
	}

	// Amounts are parsed by the client, so format them with its precision.
	if d, ok := esc.(interface{ Decimals() int }); ok {
		s.decimals = d.Decimals()
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := esc.(escrow.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Handle("/metrics", s.metrics.handler())

		api.Get("/balance", s.handleBalance)
		api.Get("/owner", s.handleOwner)
		api.Get("/milestones/next-id", s.handleNextMilestoneID)
		api.Get("/milestones/{id}", s.handleGetMilestone)
		api.Get("/vendors/{address}", s.handleGetVendor)

		api.Group(func(tx chi.Router) {
			tx.Use(s.rateLimit)
			tx.Use(s.hmac.Middleware)
			tx.Post("/milestones", s.handleCreateMilestone)
			tx.Post("/milestones/{id}/release-initial", s.handleReleaseInitial)
			tx.Post("/milestones/{id}/release-final", s.handleReleaseFinal)
			tx.Post("/milestones/{id}/proof", s.handleSubmitProof)
			tx.Post("/vendors", s.handleRegisterVendor)
			tx.Post("/fund", s.handleFund)
		})
	})
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info("API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type createMilestoneRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Vendor      string `json:"vendor"`
}

type registerVendorRequest struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type submitProofRequest struct {
	IPFSHash string `json:"ipfsHash"`
}

type fundRequest struct {
	Amount string `json:"amount"`
}

type submissionResponse struct {
	Operation   string `json:"operation"`
	Status      string `json:"status"`
	TxHash      string `json:"txHash"`
	BlockNumber string `json:"blockNumber,omitempty"`
	GasUsed     uint64 `json:"gasUsed"`
}

type milestoneResponse struct {
	ID                   string `json:"id"`
	Description          string `json:"description"`
	TotalAmount          string `json:"totalAmount"`
	TotalAmountFormatted string `json:"totalAmountFormatted"`
	Vendor               string `json:"vendor"`
	ImageProofHash       string `json:"imageProofHash"`
	IsInitialPaid        bool   `json:"isInitialPaid"`
	IsFinalPaid          bool   `json:"isFinalPaid"`
	ProofSubmitted       bool   `json:"proofSubmitted"`
}

type vendorResponse struct {
	Address    string `json:"address"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	IsVerified bool   `json:"isVerified"`
}

type amountResponse struct {
	Amount    string `json:"amount"`
	Formatted string `json:"formatted"`
	Symbol    string `json:"symbol"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	TxHash string `json:"txHash,omitempty"`
}

func (s *Server) handleCreateMilestone(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, contracts.MethodAddMilestone, http.StatusCreated, func(ctx context.Context, body []byte) (*escrow.Confirmation, error) {
		var req createMilestoneRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.Description) == "" {
			return nil, fmt.Errorf("%w: description is required", escrow.ErrInvalidArgument)
		}
		return s.escrow.CreateMilestone(ctx, escrow.CreateMilestoneRequest{
			Description: req.Description,
			Amount:      req.Amount,
			Vendor:      req.Vendor,
		})
	})
}

func (s *Server) handleReleaseInitial(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, contracts.MethodReleaseInitial, http.StatusOK, func(ctx context.Context, _ []byte) (*escrow.Confirmation, error) {
		id, err := escrow.ParseID(chi.URLParam(r, "id"))
		if err != nil {
			return nil, err
		}
		return s.escrow.ReleaseInitial(ctx, id)
	})
}

func (s *Server) handleReleaseFinal(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, contracts.MethodReleaseFinal, http.StatusOK, func(ctx context.Context, _ []byte) (*escrow.Confirmation, error) {
		id, err := escrow.ParseID(chi.URLParam(r, "id"))
		if err != nil {
			return nil, err
		}
		return s.escrow.ReleaseFinal(ctx, id)
	})
}

func (s *Server) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, contracts.MethodSubmitProof, http.StatusOK, func(ctx context.Context, body []byte) (*escrow.Confirmation, error) {
		id, err := escrow.ParseID(chi.URLParam(r, "id"))
		if err != nil {
			return nil, err
		}
		var req submitProofRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		return s.escrow.SubmitProof(ctx, id, req.IPFSHash)
	})
}

func (s *Server) handleRegisterVendor(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, contracts.MethodRegisterVendor, http.StatusCreated, func(ctx context.Context, body []byte) (*escrow.Confirmation, error) {
		var req registerVendorRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		return s.escrow.RegisterVendor(ctx, escrow.RegisterVendorRequest{
			Address:  req.Address,
			Name:     req.Name,
			Category: req.Category,
		})
	})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, contracts.MethodReceive, http.StatusOK, func(ctx context.Context, body []byte) (*escrow.Confirmation, error) {
		var req fundRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		return s.escrow.Fund(ctx, req.Amount)
	})
}

type submitFunc func(ctx context.Context, body []byte) (*escrow.Confirmation, error)

// submit runs one state-changing operation under an idempotency key.
//
// The key is reserved with a pending record before anything is broadcast and
// the transaction hash is written to it as soon as the node accepts it. A
// repeated key replays a final response, resumes waiting on a recorded hash,
// or answers 409 while the first request has not broadcast yet. Failures
// before broadcast release the key so the caller can try again.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, method string, okStatus int, run submitFunc) {
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing_idempotency_key", "missing "+idempotencyHeader+" header", "")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "could not read request body", "")
		return
	}

	if !s.claim(key) {
		s.metrics.incSubmission(method, "in_progress")
		writeError(w, http.StatusConflict, "in_progress", "a request with this idempotency key is in progress", "")
		return
	}
	defer s.unclaim(key)

	ctx := r.Context()
	// Store writes after broadcast must land even if the client goes away.
	storeCtx := context.WithoutCancel(ctx)
	now := time.Now()
	record := idempotency.Record{
		Operation:   method,
		Fingerprint: idempotency.Fingerprint(method+" "+r.URL.Path, body),
		State:       idempotency.StatePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.Service.IdempotencyWindow),
	}

	existing, reserved, err := s.store.Reserve(ctx, key, record)
	if err != nil {
		s.logger.Error("idempotency reserve failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "store_unavailable", "idempotency store unavailable", "")
		return
	}

	start := time.Now()
	if !reserved {
		switch {
		case existing.Fingerprint != record.Fingerprint:
			writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key was used for a different request", "")
		case !existing.Pending():
			s.metrics.incSubmission(method, "replayed")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(existing.StatusCode)
			_, _ = w.Write(existing.Response)
		case existing.TxHash == "":
			s.metrics.incSubmission(method, "in_progress")
			writeError(w, http.StatusConflict, "in_progress", "a request with this idempotency key is in progress", "")
		default:
			hash := common.HexToHash(existing.TxHash)
			s.logger.Info("resuming submission", "method", method, "key", key, "tx", existing.TxHash)
			conf, err := s.escrow.Await(ctx, method, hash)
			s.finish(storeCtx, w, key, *existing, okStatus, hash, start, conf, err)
		}
		return
	}

	var broadcast common.Hash
	runCtx := escrow.WithSubmitted(ctx, func(_ string, hash common.Hash) {
		broadcast = hash
		pending := record
		pending.TxHash = hash.Hex()
		if err := s.store.Save(storeCtx, key, pending); err != nil {
			s.logger.Error("idempotency save failed", "key", key, "tx", pending.TxHash, "error", err)
		}
	})
	conf, err := run(runCtx, body)
	s.finish(storeCtx, w, key, record, okStatus, broadcast, start, conf, err)
}

// finish records and writes the outcome of a submission. broadcast is the
// zero hash when nothing reached the node.
func (s *Server) finish(ctx context.Context, w http.ResponseWriter, key string, record idempotency.Record, okStatus int, broadcast common.Hash, start time.Time, conf *escrow.Confirmation, err error) {
	method := record.Operation
	if broadcast == (common.Hash{}) {
		if conf != nil {
			broadcast = conf.TxHash
		} else if hash, ok := escrow.TxHashOf(err); ok {
			broadcast = hash
		}
	}

	if err != nil {
		txHash := ""
		if broadcast != (common.Hash{}) {
			txHash = broadcast.Hex()
		}
		status, code := statusFor(err)
		var waitErr *escrow.WaitError
		switch {
		case txHash == "":
			if derr := s.store.Delete(ctx, key); derr != nil {
				s.logger.Error("idempotency release failed", "key", key, "error", derr)
			}
		case conf == nil && errors.As(err, &waitErr):
			// Broadcast but unconfirmed: the record keeps the hash and a
			// retry with the same key waits on it.
			status, code = http.StatusAccepted, "confirmation_pending"
		default:
			payload, _ := json.Marshal(errorResponse{Error: err.Error(), Code: code, TxHash: txHash})
			s.save(ctx, key, record, status, payload, txHash)
		}
		s.metrics.incSubmission(method, code)
		s.logger.Warn("submission failed", "method", method, "code", code, "tx", txHash, "error", err)
		writeError(w, status, code, err.Error(), txHash)
		return
	}
	s.metrics.observeConfirmation(method, time.Since(start))
	s.metrics.incSubmission(method, "confirmed")

	resp := submissionResponse{
		Operation: method,
		Status:    "confirmed",
		TxHash:    conf.TxHash.Hex(),
		GasUsed:   conf.GasUsed,
	}
	if conf.BlockNumber != nil {
		resp.BlockNumber = conf.BlockNumber.String()
	}
	payload, _ := json.Marshal(resp)
	s.save(ctx, key, record, okStatus, payload, resp.TxHash)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(okStatus)
	_, _ = w.Write(payload)
}

func (s *Server) save(ctx context.Context, key string, record idempotency.Record, status int, payload []byte, txHash string) {
	record.State = idempotency.StateDone
	record.StatusCode = status
	record.Response = payload
	record.TxHash = txHash
	if err := s.store.Save(ctx, key, record); err != nil {
		s.logger.Error("idempotency save failed", "key", key, "tx", txHash, "error", err)
	}
}

// claim marks key as handled by this process. Other instances are kept out
// by the store's reservation.
func (s *Server) claim(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Server) unclaim(key string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, key)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.escrow.Balance(r.Context())
	if !s.viewResult(w, contracts.MethodGetBalance, err) {
		return
	}
	writeJSON(w, http.StatusOK, s.amount(bal))
}

func (s *Server) handleOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := s.escrow.Owner(r.Context())
	if !s.viewResult(w, contracts.MethodOwner, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": owner.Hex()})
}

func (s *Server) handleNextMilestoneID(w http.ResponseWriter, r *http.Request) {
	next, err := s.escrow.NextMilestoneID(r.Context())
	if !s.viewResult(w, contracts.MethodNextMilestoneID, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"nextMilestoneId": next.String()})
}

func (s *Server) handleGetMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := escrow.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error(), "")
		return
	}
	m, err := s.escrow.Milestone(r.Context(), id)
	if !s.viewResult(w, contracts.MethodMilestones, err) {
		return
	}
	total := m.TotalAmount
	if total == nil {
		total = new(big.Int)
	}
	writeJSON(w, http.StatusOK, milestoneResponse{
		ID:                   m.ID.String(),
		Description:          m.Description,
		TotalAmount:          total.String(),
		TotalAmountFormatted: units.FormatUnits(total, s.decimals),
		Vendor:               m.Vendor.Hex(),
		ImageProofHash:       m.ImageProofHash,
		IsInitialPaid:        m.IsInitialPaid,
		IsFinalPaid:          m.IsFinalPaid,
		ProofSubmitted:       m.ProofSubmitted,
	})
}

func (s *Server) handleGetVendor(w http.ResponseWriter, r *http.Request) {
	v, err := s.escrow.Vendor(r.Context(), chi.URLParam(r, "address"))
	if !s.viewResult(w, contracts.MethodVendorRegistry, err) {
		return
	}
	writeJSON(w, http.StatusOK, vendorResponse{
		Address:    v.Address.Hex(),
		Name:       v.Name,
		Category:   v.Category,
		IsVerified: v.IsVerified,
	})
}

// viewResult records the outcome of a read and writes the error response, if
// any. It reports whether the handler should continue.
func (s *Server) viewResult(w http.ResponseWriter, method string, err error) bool {
	if err == nil {
		s.metrics.incView(method, "ok")
		return true
	}
	status, code := statusFor(err)
	s.metrics.incView(method, code)
	s.logger.Warn("view call failed", "method", method, "code", code, "error", err)
	writeError(w, status, code, err.Error(), "")
	return false
}

func (s *Server) amount(v *big.Int) amountResponse {
	if v == nil {
		v = new(big.Int)
	}
	return amountResponse{
		Amount:    v.String(),
		Formatted: units.FormatUnits(v, s.decimals),
		Symbol:    s.cfg.Chain.CurrencySymbol,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string `json:"status"`
		Contract string `json:"contract"`
		RPC      any    `json:"rpc"`
		Database any    `json:"database"`
	}{
		Status:   status,
		Contract: s.cfg.Chain.ContractAddress,
		RPC:      rpcInfo,
		Database: dbInfo,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientKey(r)) {
			s.metrics.incRateLimited()
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many submissions", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Header.Get(requestIDHeader),
		)
	})
}

// statusFor maps escrow errors onto HTTP status codes and a stable code
// string for clients and metrics.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, escrow.ErrAmountFormat):
		return http.StatusBadRequest, "amount_format"
	case errors.Is(err, escrow.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, escrow.ErrUserRejected):
		return http.StatusForbidden, "user_rejected"
	case errors.Is(err, escrow.ErrTransactionReverted):
		return http.StatusConflict, "transaction_reverted"
	case errors.Is(err, escrow.ErrTransactionRejected):
		return http.StatusBadGateway, "transaction_rejected"
	case errors.Is(err, escrow.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func decodeBody(body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json payload: %v", escrow.ErrInvalidArgument, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg, txHash string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, TxHash: txHash})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
