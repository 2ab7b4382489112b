package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/x402kamiyo/x402resolve/crypto"
	"github.com/x402kamiyo/x402resolve/native/escrow"
)

type testGateway struct {
	server   *Server
	signer   ed25519.PrivateKey
	agent    crypto.Address
	provider crypto.Address
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cfg := Config{
		ListenAddress:     ":0",
		JournalPath:       filepath.Join(t.TempDir(), "journal.db"),
		VerifierKey:       hex.EncodeToString(pub),
		OracleFeed:        hex.EncodeToString(bytes.Repeat([]byte{0xaa}, 20)),
		ReserveFloor:      escrow.DefaultReserveFloor,
		RequestsPerMinute: 60_000,
		RequestBurst:      1_000,
		DevFaucet:         true,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal, err := OpenJournal(cfg.JournalPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	server, err := NewServer(cfg, logger, journal)
	require.NoError(t, err)

	return &testGateway{
		server:   server,
		signer:   priv,
		agent:    crypto.NewAddress(crypto.EntityPrefix, [20]byte{0x01}),
		provider: crypto.NewAddress(crypto.EntityPrefix, [20]byte{0x02}),
	}
}

func (g *testGateway) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	g.server.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &out))
	return out
}

func (g *testGateway) fund(t *testing.T, entity crypto.Address, amount uint64) {
	t.Helper()
	resp := g.do(t, http.MethodPost, "/v1/accounts/"+entity.String()+"/fund", fundRequest{Amount: amount})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func (g *testGateway) createEscrow(t *testing.T, txID string, amount uint64) escrowResponse {
	t.Helper()
	resp := g.do(t, http.MethodPost, "/v1/escrows", initializeRequest{
		Agent:           g.agent.String(),
		Provider:        g.provider.String(),
		Amount:          amount,
		TimeLockSeconds: escrow.MinTimeLock,
		TransactionID:   txID,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	return decodeBody[escrowResponse](t, resp)
}

func (g *testGateway) balance(t *testing.T, entity crypto.Address) uint64 {
	t.Helper()
	resp := g.do(t, http.MethodGet, "/v1/accounts/"+entity.String(), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	payload := decodeBody[map[string]interface{}](t, resp)
	return uint64(payload["balance"].(float64))
}

func TestHealthz(t *testing.T) {
	g := newTestGateway(t)
	resp := g.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	g := newTestGateway(t)
	g.fund(t, g.agent, 100_000_000)

	created := g.createEscrow(t, "tx-http", 10_000_000)
	require.Equal(t, "tx-http", created.TransactionID)
	require.Equal(t, "active", created.Status)
	require.Equal(t, g.agent.String(), created.Agent)
	require.Equal(t, g.provider.String(), created.Provider)
	require.NotEmpty(t, created.EscrowID)
	require.NotEmpty(t, created.Vault)
	require.Equal(t, uint64(90_000_000), g.balance(t, g.agent))

	fetched := g.do(t, http.MethodGet, "/v1/escrows/tx-http", nil)
	require.Equal(t, http.StatusOK, fetched.Code)

	missing := g.do(t, http.MethodGet, "/v1/escrows/tx-missing", nil)
	require.Equal(t, http.StatusNotFound, missing.Code)

	// Only the agent may dispute.
	denied := g.do(t, http.MethodPost, "/v1/escrows/tx-http/dispute", callerRequest{Caller: g.provider.String()})
	require.Equal(t, http.StatusForbidden, denied.Code)

	disputed := g.do(t, http.MethodPost, "/v1/escrows/tx-http/dispute", callerRequest{Caller: g.agent.String()})
	require.Equal(t, http.StatusOK, disputed.Code, disputed.Body.String())
	require.Equal(t, "disputed", decodeBody[escrowResponse](t, disputed).Status)

	// A signed 40-quality attestation settles with a 60% refund.
	message := escrow.CanonicalMessage("tx-http", 40)
	signature := ed25519.Sign(g.signer, message)
	resolved := g.do(t, http.MethodPost, "/v1/escrows/tx-http/resolve", resolveSignatureRequest{
		QualityScore:     40,
		RefundPercentage: 60,
		Signature:        hex.EncodeToString(signature),
	})
	require.Equal(t, http.StatusOK, resolved.Code, resolved.Body.String())
	payload := decodeBody[escrowResponse](t, resolved)
	require.Equal(t, "resolved", payload.Status)
	require.NotNil(t, payload.QualityScore)
	require.Equal(t, uint8(40), *payload.QualityScore)

	require.Equal(t, uint64(96_000_000), g.balance(t, g.agent))
	require.Equal(t, uint64(4_000_000), g.balance(t, g.provider))

	// Double resolution conflicts.
	again := g.do(t, http.MethodPost, "/v1/escrows/tx-http/resolve", resolveSignatureRequest{
		QualityScore:     40,
		RefundPercentage: 60,
		Signature:        hex.EncodeToString(signature),
	})
	require.Equal(t, http.StatusConflict, again.Code)

	rep := g.do(t, http.MethodGet, "/v1/reputation/"+g.agent.String(), nil)
	require.Equal(t, http.StatusOK, rep.Code)
	repPayload := decodeBody[reputationResponse](t, rep)
	require.Equal(t, uint64(1), repPayload.TotalTransactions)
	require.Equal(t, uint64(1), repPayload.DisputesFiled)
	require.Equal(t, uint64(1), repPayload.DisputesPartial)

	events := g.do(t, http.MethodGet, "/v1/events", nil)
	require.Equal(t, http.StatusOK, events.Code)
	entries := decodeBody[[]JournalEntry](t, events)
	require.Len(t, entries, 3)
	require.Equal(t, escrow.EventTypeDisputeResolved, entries[0].Type)
}

func TestReleaseOverHTTP(t *testing.T) {
	g := newTestGateway(t)
	g.fund(t, g.agent, 100_000_000)
	g.createEscrow(t, "tx-release", 10_000_000)

	// A third party cannot release before expiry.
	stranger := crypto.NewAddress(crypto.EntityPrefix, [20]byte{0x03})
	denied := g.do(t, http.MethodPost, "/v1/escrows/tx-release/release", callerRequest{Caller: stranger.String()})
	require.Equal(t, http.StatusForbidden, denied.Code)

	released := g.do(t, http.MethodPost, "/v1/escrows/tx-release/release", callerRequest{Caller: g.agent.String()})
	require.Equal(t, http.StatusOK, released.Code, released.Body.String())
	require.Equal(t, "released", decodeBody[escrowResponse](t, released).Status)
	require.Equal(t, uint64(10_000_000), g.balance(t, g.provider))
}

func TestResolveRejectsBadSignature(t *testing.T) {
	g := newTestGateway(t)
	g.fund(t, g.agent, 100_000_000)
	g.createEscrow(t, "tx-badsig", 10_000_000)

	message := escrow.CanonicalMessage("tx-badsig", 40)
	signature := ed25519.Sign(g.signer, message)
	signature[0] ^= 0x01

	resp := g.do(t, http.MethodPost, "/v1/escrows/tx-badsig/resolve", resolveSignatureRequest{
		QualityScore:     40,
		RefundPercentage: 60,
		Signature:        hex.EncodeToString(signature),
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestResolveByOracleOverHTTP(t *testing.T) {
	g := newTestGateway(t)
	g.fund(t, g.agent, 100_000_000)
	g.createEscrow(t, "tx-oracle", 10_000_000)

	record := make([]byte, 24)
	big.NewInt(40).FillBytes(record[:16])
	binary.BigEndian.PutUint64(record[16:], uint64(time.Now().Unix()))

	resp := g.do(t, http.MethodPost, "/v1/escrows/tx-oracle/resolve-oracle", resolveOracleRequest{
		QualityScore:     40,
		RefundPercentage: 60,
		FeedRecord:       hex.EncodeToString(record),
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, "resolved", decodeBody[escrowResponse](t, resp).Status)
}

func TestEntityQuotaOverHTTP(t *testing.T) {
	g := newTestGateway(t)
	g.fund(t, g.agent, 100_000_000)

	// The basic tier admits a single transaction per hour.
	g.createEscrow(t, "tx-quota-1", 10_000_000)
	resp := g.do(t, http.MethodPost, "/v1/escrows", initializeRequest{
		Agent:           g.agent.String(),
		Provider:        g.provider.String(),
		Amount:          10_000_000,
		TimeLockSeconds: escrow.MinTimeLock,
		TransactionID:   "tx-quota-2",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.Code)

	// Upgrading the verification level lifts the ceiling.
	upgrade := g.do(t, http.MethodPost, "/v1/limits/"+g.agent.String(), setLevelRequest{Level: "staked"})
	require.Equal(t, http.StatusOK, upgrade.Code)
	g.createEscrow(t, "tx-quota-2", 10_000_000)
}

func TestValidationErrorsOverHTTP(t *testing.T) {
	g := newTestGateway(t)
	g.fund(t, g.agent, 100_000_000)

	// Lift the entity quota so every case exercises its own validation error.
	upgrade := g.do(t, http.MethodPost, "/v1/limits/"+g.agent.String(), setLevelRequest{Level: "kyc"})
	require.Equal(t, http.StatusOK, upgrade.Code)

	tests := []struct {
		name string
		req  initializeRequest
		want int
	}{
		{
			"amount below minimum",
			initializeRequest{Agent: g.agent.String(), Provider: g.provider.String(), Amount: escrow.MinEscrowAmount - 1, TimeLockSeconds: escrow.MinTimeLock, TransactionID: "tx-v1"},
			http.StatusBadRequest,
		},
		{
			"time lock out of range",
			initializeRequest{Agent: g.agent.String(), Provider: g.provider.String(), Amount: 10_000_000, TimeLockSeconds: escrow.MaxTimeLock + 1, TransactionID: "tx-v2"},
			http.StatusBadRequest,
		},
		{
			"malformed agent address",
			initializeRequest{Agent: "nope", Provider: g.provider.String(), Amount: 10_000_000, TimeLockSeconds: escrow.MinTimeLock, TransactionID: "tx-v3"},
			http.StatusBadRequest,
		},
		{
			"insufficient balance",
			initializeRequest{Agent: g.agent.String(), Provider: g.provider.String(), Amount: 900_000_000, TimeLockSeconds: escrow.MinTimeLock, TransactionID: "tx-v4"},
			http.StatusPaymentRequired,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := g.do(t, http.MethodPost, "/v1/escrows", tc.req)
			require.Equal(t, tc.want, resp.Code, resp.Body.String())
		})
	}
}

func TestReputationEndpoints(t *testing.T) {
	g := newTestGateway(t)

	created := g.do(t, http.MethodPost, "/v1/reputation/"+g.provider.String(), initReputationRequest{EntityType: "provider"})
	require.Equal(t, http.StatusCreated, created.Code)
	payload := decodeBody[reputationResponse](t, created)
	require.Equal(t, uint16(500), payload.Score)
	require.Equal(t, uint64(1_000_000), payload.DisputeCost)

	duplicate := g.do(t, http.MethodPost, "/v1/reputation/"+g.provider.String(), initReputationRequest{EntityType: "provider"})
	require.Equal(t, http.StatusConflict, duplicate.Code)

	invalid := g.do(t, http.MethodPost, "/v1/reputation/"+g.provider.String(), initReputationRequest{EntityType: "referee"})
	require.Equal(t, http.StatusBadRequest, invalid.Code)
}

func TestLimitsEndpoints(t *testing.T) {
	g := newTestGateway(t)

	get := g.do(t, http.MethodGet, "/v1/limits/"+g.agent.String(), nil)
	require.Equal(t, http.StatusOK, get.Code)
	payload := decodeBody[levelResponse](t, get)
	require.Equal(t, "basic", payload.Level)
	require.Equal(t, uint32(1), payload.TransactionsPerHour)

	set := g.do(t, http.MethodPost, "/v1/limits/"+g.agent.String(), setLevelRequest{Level: "kyc"})
	require.Equal(t, http.StatusOK, set.Code)
	payload = decodeBody[levelResponse](t, set)
	require.Equal(t, "kyc", payload.Level)
	require.Equal(t, uint32(1000), payload.TransactionsPerHour)

	bad := g.do(t, http.MethodPost, "/v1/limits/"+g.agent.String(), setLevelRequest{Level: "platinum"})
	require.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestDevFaucetDisabled(t *testing.T) {
	g := newTestGateway(t)
	g.server.cfg.DevFaucet = false
	resp := g.do(t, http.MethodPost, "/v1/accounts/"+g.agent.String()+"/fund", fundRequest{Amount: 1})
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestConfigValidation(t *testing.T) {
	t.Setenv("X402_GATEWAY_VERIFIER_KEY", "")
	_, err := LoadConfig("")
	require.Error(t, err, "verifier key must be required")

	t.Setenv("X402_GATEWAY_VERIFIER_KEY", hex.EncodeToString(bytes.Repeat([]byte{0x01}, 32)))
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, escrow.DefaultReserveFloor, cfg.ReserveFloor)

	key, err := cfg.VerifierKeyBytes()
	require.NoError(t, err)
	require.Equal(t, byte(0x01), key[0])

	cfg.VerifierKey = "zz"
	_, err = cfg.VerifierKeyBytes()
	require.Error(t, err)

	cfg.OracleFeed = fmt.Sprintf("%x", bytes.Repeat([]byte{0xaa}, 19))
	_, err = cfg.OracleFeedAddress()
	require.Error(t, err)
}
