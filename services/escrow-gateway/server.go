package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/x402kamiyo/x402resolve/crypto"
	"github.com/x402kamiyo/x402resolve/native/escrow"
	"github.com/x402kamiyo/x402resolve/native/ratelimit"
	"github.com/x402kamiyo/x402resolve/native/reputation"
)

// Server exposes the escrow engine over HTTP. Every engine operation runs
// under the node mutex, so transitions observe and commit state as single
// serialized units.
type Server struct {
	cfg         Config
	logger      *slog.Logger
	metrics     *Metrics
	journal     *Journal
	broadcaster *Broadcaster

	mu         sync.Mutex
	state      *MemoryState
	engine     *escrow.Engine
	reputation *reputation.Ledger
	limits     *ratelimit.Ledger

	verifierKey [escrow.VerifierKeyLength]byte
	oracleFeed  [20]byte

	clientsMu sync.Mutex
	clients   map[string]*rate.Limiter

	router chi.Router
}

// NewServer wires the state backend, ledgers, engine and router.
func NewServer(cfg Config, logger *slog.Logger, journal *Journal) (*Server, error) {
	verifierKey, err := cfg.VerifierKeyBytes()
	if err != nil {
		return nil, err
	}
	oracleFeed, err := cfg.OracleFeedAddress()
	if err != nil {
		return nil, err
	}

	state := NewMemoryState()
	repLedger := reputation.NewLedger(state)
	limitLedger := ratelimit.NewLedger(state)

	broadcaster := NewBroadcaster()
	engine := escrow.NewEngine()
	engine.SetState(state)
	engine.SetReputation(repLedger)
	engine.SetReserveFloor(cfg.ReserveFloor)
	sinks := teeEmitter{broadcaster}
	if journal != nil {
		sinks = append(sinks, journal)
	}
	engine.SetEmitter(sinks)

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		metrics:     NewMetrics(),
		journal:     journal,
		broadcaster: broadcaster,
		state:       state,
		engine:      engine,
		reputation:  repLedger,
		limits:      limitLedger,
		verifierKey: verifierKey,
		oracleFeed:  oracleFeed,
		clients:     make(map[string]*rate.Limiter),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.throttleMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/escrows", s.handleInitialize)
		r.Route("/escrows/{transactionID}", func(r chi.Router) {
			r.Get("/", s.handleGetEscrow)
			r.Post("/release", s.handleRelease)
			r.Post("/dispute", s.handleDispute)
			r.Post("/resolve", s.handleResolveSignature)
			r.Post("/resolve-oracle", s.handleResolveOracle)
		})
		r.Post("/reputation/{entity}", s.handleInitReputation)
		r.Get("/reputation/{entity}", s.handleGetReputation)
		r.Post("/limits/{entity}", s.handleSetLevel)
		r.Get("/limits/{entity}", s.handleGetLevel)
		r.Get("/accounts/{entity}", s.handleGetAccount)
		r.Post("/accounts/{entity}/fund", s.handleFund)
		r.Get("/events", s.handleEvents)
		r.Get("/events/ws", s.handleEventsWS)
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type escrowResponse struct {
	TransactionID    string `json:"transactionId"`
	EscrowID         string `json:"escrowId"`
	Agent            string `json:"agent"`
	Provider         string `json:"provider"`
	Vault            string `json:"vault"`
	Amount           uint64 `json:"amount"`
	Status           string `json:"status"`
	CreatedAt        int64  `json:"createdAt"`
	ExpiresAt        int64  `json:"expiresAt"`
	QualityScore     *uint8 `json:"qualityScore,omitempty"`
	RefundPercentage *uint8 `json:"refundPercentage,omitempty"`
}

func (s *Server) escrowPayload(e *escrow.Escrow) escrowResponse {
	resp := escrowResponse{
		TransactionID: e.TransactionID,
		EscrowID:      hex.EncodeToString(e.ID[:]),
		Agent:         crypto.NewAddress(crypto.EntityPrefix, e.Agent).String(),
		Provider:      crypto.NewAddress(crypto.EntityPrefix, e.Provider).String(),
		Amount:        e.Amount,
		Status:        e.Status.String(),
		CreatedAt:     e.CreatedAt,
		ExpiresAt:     e.ExpiresAt,
	}
	if vault, err := escrow.DeriveVault(e.TransactionID); err == nil {
		resp.Vault = crypto.NewAddress(crypto.EntityPrefix, vault.Address).String()
	}
	if e.QualityScore != nil {
		score := *e.QualityScore
		resp.QualityScore = &score
	}
	if e.RefundPercentage != nil {
		pct := *e.RefundPercentage
		resp.RefundPercentage = &pct
	}
	return resp
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type initializeRequest struct {
	Agent           string `json:"agent"`
	Provider        string `json:"provider"`
	Amount          uint64 `json:"amount"`
	TimeLockSeconds int64  `json:"timeLockSeconds"`
	TransactionID   string `json:"transactionId"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req initializeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "initialize", started, err)
		return
	}
	agent, err := crypto.DecodeAddress(req.Agent)
	if err != nil {
		s.fail(w, "initialize", started, badRequestf("agent: %v", err))
		return
	}
	provider, err := crypto.DecodeAddress(req.Provider)
	if err != nil {
		s.fail(w, "initialize", started, badRequestf("provider: %v", err))
		return
	}
	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		transactionID = uuid.NewString()
	}

	s.mu.Lock()
	err = s.limits.Allow(agent.Bytes())
	var esc *escrow.Escrow
	if err == nil {
		esc, err = s.engine.Initialize(agent.Bytes(), provider.Bytes(), req.Amount, req.TimeLockSeconds, transactionID)
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "initialize", started, err)
		return
	}
	s.metrics.Observe("initialize", nil, started)
	writeJSON(w, http.StatusCreated, s.escrowPayload(esc))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	id, err := escrow.EscrowID(chi.URLParam(r, "transactionID"))
	if err != nil {
		s.fail(w, "get", started, err)
		return
	}
	s.mu.Lock()
	esc, ok := s.state.EscrowGet(id)
	s.mu.Unlock()
	if !ok {
		s.fail(w, "get", started, escrow.ErrEscrowNotFound)
		return
	}
	s.metrics.Observe("get", nil, started)
	writeJSON(w, http.StatusOK, s.escrowPayload(esc))
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req callerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "release", started, err)
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		s.fail(w, "release", started, badRequestf("caller: %v", err))
		return
	}
	id, err := escrow.EscrowID(chi.URLParam(r, "transactionID"))
	if err != nil {
		s.fail(w, "release", started, err)
		return
	}

	s.mu.Lock()
	err = s.engine.Release(id, caller.Bytes())
	var esc *escrow.Escrow
	if err == nil {
		esc, _ = s.state.EscrowGet(id)
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "release", started, err)
		return
	}
	s.metrics.Observe("release", nil, started)
	writeJSON(w, http.StatusOK, s.escrowPayload(esc))
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req callerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "dispute", started, err)
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		s.fail(w, "dispute", started, badRequestf("caller: %v", err))
		return
	}
	id, err := escrow.EscrowID(chi.URLParam(r, "transactionID"))
	if err != nil {
		s.fail(w, "dispute", started, err)
		return
	}

	s.mu.Lock()
	err = s.limits.NoteDispute(caller.Bytes())
	var esc *escrow.Escrow
	if err == nil {
		err = s.engine.MarkDisputed(id, caller.Bytes())
	}
	if err == nil {
		esc, _ = s.state.EscrowGet(id)
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "dispute", started, err)
		return
	}
	s.metrics.Observe("dispute", nil, started)
	writeJSON(w, http.StatusOK, s.escrowPayload(esc))
}

type resolveSignatureRequest struct {
	QualityScore     uint8  `json:"qualityScore"`
	RefundPercentage uint8  `json:"refundPercentage"`
	Signature        string `json:"signature"`
}

// handleResolveSignature performs the ed25519 verification the engine itself
// delegates to the hosting environment: the gateway checks the signature over
// the canonical message, assembles the facility record and hands both to the
// engine for byte-exact cross-checking.
func (s *Server) handleResolveSignature(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req resolveSignatureRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "resolve", started, err)
		return
	}
	transactionID := chi.URLParam(r, "transactionID")
	id, err := escrow.EscrowID(transactionID)
	if err != nil {
		s.fail(w, "resolve", started, err)
		return
	}
	rawSig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil || len(rawSig) != escrow.SignatureLength {
		s.fail(w, "resolve", started, escrow.ErrInvalidSignature)
		return
	}
	var signature [escrow.SignatureLength]byte
	copy(signature[:], rawSig)

	message := escrow.CanonicalMessage(transactionID, req.QualityScore)
	if !ed25519.Verify(ed25519.PublicKey(s.verifierKey[:]), message, signature[:]) {
		s.fail(w, "resolve", started, escrow.ErrInvalidSignature)
		return
	}
	bundle := []escrow.VerificationRecord{
		escrow.BuildEd25519Record(signature, s.verifierKey, message),
	}

	s.mu.Lock()
	err = s.engine.ResolveBySignature(id, req.QualityScore, req.RefundPercentage, signature, s.verifierKey, bundle)
	var esc *escrow.Escrow
	if err == nil {
		esc, _ = s.state.EscrowGet(id)
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "resolve", started, err)
		return
	}
	s.metrics.Observe("resolve", nil, started)
	writeJSON(w, http.StatusOK, s.escrowPayload(esc))
}

type resolveOracleRequest struct {
	QualityScore     uint8  `json:"qualityScore"`
	RefundPercentage uint8  `json:"refundPercentage"`
	FeedRecord       string `json:"feedRecord"`
}

func (s *Server) handleResolveOracle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req resolveOracleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "resolve_oracle", started, err)
		return
	}
	id, err := escrow.EscrowID(chi.URLParam(r, "transactionID"))
	if err != nil {
		s.fail(w, "resolve_oracle", started, err)
		return
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(req.FeedRecord, "0x"))
	if err != nil {
		s.fail(w, "resolve_oracle", started, escrow.ErrInvalidAttestation)
		return
	}
	feed, err := escrow.ParseQualityFeed(s.oracleFeed, raw)
	if err != nil {
		s.fail(w, "resolve_oracle", started, err)
		return
	}

	s.mu.Lock()
	err = s.engine.ResolveByOracle(id, req.QualityScore, req.RefundPercentage, feed)
	var esc *escrow.Escrow
	if err == nil {
		esc, _ = s.state.EscrowGet(id)
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "resolve_oracle", started, err)
		return
	}
	s.metrics.Observe("resolve_oracle", nil, started)
	writeJSON(w, http.StatusOK, s.escrowPayload(esc))
}

type initReputationRequest struct {
	EntityType string `json:"entityType"`
}

type reputationResponse struct {
	Entity            string `json:"entity"`
	EntityType        string `json:"entityType"`
	TotalTransactions uint64 `json:"totalTransactions"`
	DisputesFiled     uint64 `json:"disputesFiled"`
	DisputesWon       uint64 `json:"disputesWon"`
	DisputesPartial   uint64 `json:"disputesPartial"`
	DisputesLost      uint64 `json:"disputesLost"`
	AverageQuality    uint8  `json:"averageQuality"`
	Score             uint16 `json:"score"`
	DisputeCost       uint64 `json:"disputeCost"`
	CreatedAt         int64  `json:"createdAt"`
	LastUpdated       int64  `json:"lastUpdated"`
}

func reputationPayload(rep *reputation.EntityReputation) reputationResponse {
	return reputationResponse{
		Entity:            crypto.NewAddress(crypto.EntityPrefix, rep.Entity).String(),
		EntityType:        rep.EntityType.String(),
		TotalTransactions: rep.TotalTransactions,
		DisputesFiled:     rep.DisputesFiled,
		DisputesWon:       rep.DisputesWon,
		DisputesPartial:   rep.DisputesPartial,
		DisputesLost:      rep.DisputesLost,
		AverageQuality:    rep.AverageQuality,
		Score:             rep.Score,
		DisputeCost:       reputation.DisputeCost(rep, escrow.BaseDisputeCost),
		CreatedAt:         rep.CreatedAt,
		LastUpdated:       rep.LastUpdated,
	}
}

func (s *Server) handleInitReputation(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req initReputationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "reputation_init", started, err)
		return
	}
	entity, err := crypto.DecodeAddress(chi.URLParam(r, "entity"))
	if err != nil {
		s.fail(w, "reputation_init", started, badRequestf("entity: %v", err))
		return
	}
	var entityType reputation.EntityType
	switch req.EntityType {
	case "agent":
		entityType = reputation.EntityAgent
	case "provider":
		entityType = reputation.EntityProvider
	default:
		s.fail(w, "reputation_init", started, badRequestf("entityType must be agent or provider"))
		return
	}

	s.mu.Lock()
	rep, err := s.reputation.Init(entity.Bytes(), entityType)
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "reputation_init", started, err)
		return
	}
	s.metrics.Observe("reputation_init", nil, started)
	writeJSON(w, http.StatusCreated, reputationPayload(rep))
}

func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	entity, err := crypto.DecodeAddress(chi.URLParam(r, "entity"))
	if err != nil {
		s.fail(w, "reputation_get", started, badRequestf("entity: %v", err))
		return
	}
	s.mu.Lock()
	rep, _, err := s.reputation.Get(entity.Bytes())
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "reputation_get", started, err)
		return
	}
	s.metrics.Observe("reputation_get", nil, started)
	writeJSON(w, http.StatusOK, reputationPayload(rep))
}

type setLevelRequest struct {
	Level string `json:"level"`
}

type levelResponse struct {
	Entity              string `json:"entity"`
	Level               string `json:"level"`
	TransactionsPerHour uint32 `json:"transactionsPerHour"`
	TransactionsPerDay  uint32 `json:"transactionsPerDay"`
	DisputesPerDay      uint32 `json:"disputesPerDay"`
}

func levelPayload(entity crypto.Address, level ratelimit.Level) levelResponse {
	limits := ratelimit.LimitsFor(level)
	return levelResponse{
		Entity:              entity.String(),
		Level:               level.String(),
		TransactionsPerHour: limits.TransactionsPerHour,
		TransactionsPerDay:  limits.TransactionsPerDay,
		DisputesPerDay:      limits.DisputesPerDay,
	}
}

func (s *Server) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req setLevelRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "level_set", started, err)
		return
	}
	entity, err := crypto.DecodeAddress(chi.URLParam(r, "entity"))
	if err != nil {
		s.fail(w, "level_set", started, badRequestf("entity: %v", err))
		return
	}
	level, err := ratelimit.ParseLevel(req.Level)
	if err != nil {
		s.fail(w, "level_set", started, badRequestf("%v", err))
		return
	}
	s.mu.Lock()
	err = s.limits.SetLevel(entity.Bytes(), level)
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "level_set", started, err)
		return
	}
	s.metrics.Observe("level_set", nil, started)
	writeJSON(w, http.StatusOK, levelPayload(entity, level))
}

func (s *Server) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	entity, err := crypto.DecodeAddress(chi.URLParam(r, "entity"))
	if err != nil {
		s.fail(w, "level_get", started, badRequestf("entity: %v", err))
		return
	}
	s.mu.Lock()
	level, err := s.limits.Level(entity.Bytes())
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "level_get", started, err)
		return
	}
	s.metrics.Observe("level_get", nil, started)
	writeJSON(w, http.StatusOK, levelPayload(entity, level))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	entity, err := crypto.DecodeAddress(chi.URLParam(r, "entity"))
	if err != nil {
		s.fail(w, "account_get", started, badRequestf("entity: %v", err))
		return
	}
	s.mu.Lock()
	acc, err := s.state.GetAccount(entity.Bytes())
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "account_get", started, err)
		return
	}
	balance := uint64(0)
	if acc != nil {
		balance = acc.Balance
	}
	s.metrics.Observe("account_get", nil, started)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity":  entity.String(),
		"balance": balance,
	})
}

type fundRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if !s.cfg.DevFaucet {
		http.NotFound(w, r)
		return
	}
	var req fundRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "fund", started, err)
		return
	}
	entity, err := crypto.DecodeAddress(chi.URLParam(r, "entity"))
	if err != nil {
		s.fail(w, "fund", started, badRequestf("entity: %v", err))
		return
	}
	s.mu.Lock()
	err = s.state.Mint(entity.Bytes(), req.Amount)
	var acc struct{ Balance uint64 }
	if err == nil {
		if stored, getErr := s.state.GetAccount(entity.Bytes()); getErr == nil && stored != nil {
			acc.Balance = stored.Balance
		}
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "fund", started, err)
		return
	}
	s.metrics.Observe("fund", nil, started)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity":  entity.String(),
		"balance": acc.Balance,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	if s.journal == nil {
		writeJSON(w, http.StatusOK, []JournalEntry{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 1000 {
			s.fail(w, "events", started, badRequestf("limit must be 1-1000"))
			return
		}
		limit = parsed
	}
	entries, err := s.journal.Recent(limit)
	if err != nil {
		s.fail(w, "events", started, err)
		return
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	s.metrics.Observe("events", nil, started)
	writeJSON(w, http.StatusOK, entries)
}

// badRequestError forces a 400 for malformed request payloads regardless of
// the wrapped message.
type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

func badRequestf(format string, args ...interface{}) error {
	return badRequestError{msg: fmt.Sprintf(format, args...)}
}

func statusForError(err error) int {
	var badReq badRequestError
	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest
	case errors.Is(err, escrow.ErrEscrowNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrEscrowExists),
		errors.Is(err, escrow.ErrInvalidStatus),
		errors.Is(err, reputation.ErrAlreadyInitialised):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, escrow.ErrTimeLockNotExpired),
		errors.Is(err, escrow.ErrDisputeWindowExpired):
		return http.StatusForbidden
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, escrow.ErrInsufficientDisputeFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrAmountTooLarge),
		errors.Is(err, escrow.ErrInvalidTimeLock),
		errors.Is(err, escrow.ErrInvalidTransactionID),
		errors.Is(err, escrow.ErrInsufficientReserve),
		errors.Is(err, escrow.ErrInvalidQualityScore),
		errors.Is(err, escrow.ErrInvalidRefundPercentage),
		errors.Is(err, escrow.ErrInvalidSignature),
		errors.Is(err, escrow.ErrInvalidAttestation),
		errors.Is(err, escrow.ErrStaleAttestation),
		errors.Is(err, escrow.ErrQualityScoreMismatch),
		errors.Is(err, reputation.ErrInvalidQuality):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, operation string, started time.Time, err error) {
	s.metrics.Observe(operation, err, started)
	status := statusForError(err)
	if status == http.StatusInternalServerError && s.logger != nil {
		s.logger.Error("operation failed", "operation", operation, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return badRequestf("decode request: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID extracts the request id assigned by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if s.logger != nil {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"durationMs", time.Since(started).Milliseconds(),
				"requestId", w.Header().Get("X-Request-Id"),
			)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// throttleMiddleware applies a per-client token bucket in front of every
// handler. Entity-level quotas are enforced separately by the rate limit
// ledger; this guard only protects the process itself.
func (s *Server) throttleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.clientLimiter(clientKey(r)).Allow() {
			s.metrics.Throttled()
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) clientLimiter(key string) *rate.Limiter {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	limiter, ok := s.clients[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerMinute/60), s.cfg.RequestBurst)
		s.clients[key] = limiter
	}
	return limiter
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
