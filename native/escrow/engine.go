package escrow

import (
	"errors"
	"math"
	"time"

	"github.com/x402kamiyo/x402resolve/core/events"
	"github.com/x402kamiyo/x402resolve/core/types"
	"github.com/x402kamiyo/x402resolve/native/reputation"
)

var (
	errNilState      = errors.New("escrow engine: state not configured")
	errNilReputation = errors.New("escrow engine: reputation ledger not configured")
)

// DefaultReserveFloor is the minimum transfer required to keep a holding
// account alive. Escrows below the floor are rejected at initialisation even
// when they clear the amount minimum.
const DefaultReserveFloor uint64 = 2_000_000

// engineState is the narrow view of the state backend the engine operates
// against. Every operation executes as a single serialized unit of work; the
// hosting environment guarantees single-writer-per-record commit semantics.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	VaultCredit(id [32]byte, amount uint64) error
	VaultDebit(id [32]byte, capability Capability, amount uint64) error
	VaultBalance(id [32]byte) (uint64, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine owns the escrow lifecycle: it enforces the authorization and timing
// guards on each transition, triggers value transfers against the holding
// account and feeds resolution outcomes into the reputation ledger.
type Engine struct {
	state        engineState
	emitter      events.Emitter
	reputation   *reputation.Ledger
	reserveFloor uint64
	nowFn        func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// reserve floor. Callers can override both via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter:      events.NoopEmitter{},
		reserveFloor: DefaultReserveFloor,
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetReputation configures the reputation ledger updated on dispute filings
// and resolutions.
func (e *Engine) SetReputation(ledger *reputation.Ledger) { e.reputation = ledger }

// SetReserveFloor overrides the holding account reserve floor.
func (e *Engine) SetReserveFloor(floor uint64) { e.reserveFloor = floor }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{}
	}
	return acc
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

// Initialize validates the escrow parameters, moves the amount from the agent
// into the deterministically derived holding account and persists the Active
// escrow record.
func (e *Engine) Initialize(agent, provider [20]byte, amount uint64, timeLock int64, transactionID string) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if amount < MinEscrowAmount {
		return nil, ErrInvalidAmount
	}
	if amount > MaxEscrowAmount {
		return nil, ErrAmountTooLarge
	}
	if timeLock < MinTimeLock || timeLock > MaxTimeLock {
		return nil, ErrInvalidTimeLock
	}
	id, err := EscrowID(transactionID)
	if err != nil {
		return nil, err
	}
	if _, ok := e.state.EscrowGet(id); ok {
		return nil, ErrEscrowExists
	}
	if amount < e.reserveFloor {
		return nil, ErrInsufficientReserve
	}
	vault, err := DeriveVault(transactionID)
	if err != nil {
		return nil, err
	}

	agentAcc, err := e.state.GetAccount(agent)
	if err != nil {
		return nil, err
	}
	agentAcc = ensureAccount(agentAcc)
	if agentAcc.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	now := e.now()
	esc := &Escrow{
		ID:            id,
		Agent:         agent,
		Provider:      provider,
		Amount:        amount,
		Status:        EscrowActive,
		CreatedAt:     now,
		ExpiresAt:     now + timeLock,
		TransactionID: transactionID,
		Bump:          vault.Bump,
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	agentAcc.Balance -= amount
	if err := e.state.PutAccount(agent, agentAcc); err != nil {
		return nil, err
	}
	if err := e.state.VaultCredit(id, amount); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(esc))
	return esc.Clone(), nil
}

// Release settles an Active escrow in full to the provider. The agent may
// release at any time; any other caller only once the time lock has expired.
// Non-agent callers are rejected on the time check before authorization is
// even considered, preserving the two-part guard ordering.
func (e *Engine) Release(id [32]byte, caller [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != EscrowActive {
		return ErrInvalidStatus
	}
	isAgent := caller == esc.Agent
	expired := e.now() >= esc.ExpiresAt
	if !isAgent && !expired {
		return ErrTimeLockNotExpired
	}

	capability, err := AuthorizeTransfer(esc.TransactionID, esc.Bump)
	if err != nil {
		return err
	}
	providerAcc, err := e.state.GetAccount(esc.Provider)
	if err != nil {
		return err
	}
	providerAcc = ensureAccount(providerAcc)
	if providerAcc.Balance > math.MaxUint64-esc.Amount {
		return ErrArithmeticOverflow
	}
	if err := e.state.VaultDebit(id, capability, esc.Amount); err != nil {
		return err
	}
	providerAcc.Balance += esc.Amount
	if err := e.state.PutAccount(esc.Provider, providerAcc); err != nil {
		return err
	}
	esc.Status = EscrowReleased
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(esc, e.now()))
	return nil
}

// MarkDisputed flags an Active escrow as disputed. Only the escrow's agent may
// dispute, and only strictly before expiry: the window closes exactly at the
// expiry timestamp. The dispute cost derived from the agent's history is a
// balance guard here; actual charging is an external concern.
func (e *Engine) MarkDisputed(id [32]byte, caller [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if e.reputation == nil {
		return errNilReputation
	}
	if esc.Status != EscrowActive {
		return ErrInvalidStatus
	}
	if caller != esc.Agent {
		return ErrUnauthorized
	}
	now := e.now()
	if now >= esc.ExpiresAt {
		return ErrDisputeWindowExpired
	}

	rep, _, err := e.reputation.Get(esc.Agent)
	if err != nil {
		return err
	}
	cost := reputation.DisputeCost(rep, BaseDisputeCost)
	agentAcc, err := e.state.GetAccount(esc.Agent)
	if err != nil {
		return err
	}
	if ensureAccount(agentAcc).Balance < cost {
		return ErrInsufficientDisputeFunds
	}

	if err := e.reputation.NoteDisputeFiled(esc.Agent); err != nil {
		return err
	}
	esc.Status = EscrowDisputed
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(esc, now))
	return nil
}

// ResolveBySignature resolves an escrow from a verifier-signed quality
// assertion. The co-submitted verification bundle must carry, at index 0, a
// record from the ed25519 facility matching the signature, the verifier key
// and the canonical "{transaction_id}:{quality_score}" message byte for byte.
// A prior dispute is not required: a signed attestation can resolve directly
// from Active.
func (e *Engine) ResolveBySignature(id [32]byte, qualityScore, refundPercentage uint8, signature [SignatureLength]byte, verifierKey [VerifierKeyLength]byte, bundle []VerificationRecord) error {
	esc, err := e.resolvable(id, qualityScore, refundPercentage)
	if err != nil {
		return err
	}
	message := CanonicalMessage(esc.TransactionID, qualityScore)
	if err := VerifySignatureRecord(bundle, signature, verifierKey, message); err != nil {
		return err
	}
	return e.settle(esc, qualityScore, refundPercentage, verifierIdentity(verifierKey[:]))
}

// ResolveByOracle resolves an escrow from a decentralized oracle feed instead
// of a single signer. The feed's published value must equal the submitted
// quality score exactly and its last update must fall inside the freshness
// window relative to the engine clock.
func (e *Engine) ResolveByOracle(id [32]byte, qualityScore, refundPercentage uint8, feed *QualityFeed) error {
	esc, err := e.resolvable(id, qualityScore, refundPercentage)
	if err != nil {
		return err
	}
	if feed == nil {
		return ErrInvalidAttestation
	}
	if err := feed.CheckFreshness(e.now()); err != nil {
		return err
	}
	if err := feed.MatchesScore(qualityScore); err != nil {
		return err
	}
	return e.settle(esc, qualityScore, refundPercentage, verifierIdentity(feed.Feed[:]))
}

func (e *Engine) resolvable(id [32]byte, qualityScore, refundPercentage uint8) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if e.reputation == nil {
		return nil, errNilReputation
	}
	if esc.Status != EscrowActive && esc.Status != EscrowDisputed {
		return nil, ErrInvalidStatus
	}
	if qualityScore > 100 {
		return nil, ErrInvalidQualityScore
	}
	if refundPercentage > 100 {
		return nil, ErrInvalidRefundPercentage
	}
	return esc, nil
}

// settle performs the refund/payment split out of the holding account, records
// the resolution on the escrow and updates both parties' reputation. All
// verification has already happened; from here the operation commits
// atomically under the hosting environment's serialization.
func (e *Engine) settle(esc *Escrow, qualityScore, refundPercentage uint8, verifier string) error {
	refund, payment, err := SplitAmount(esc.Amount, refundPercentage)
	if err != nil {
		return err
	}
	capability, err := AuthorizeTransfer(esc.TransactionID, esc.Bump)
	if err != nil {
		return err
	}

	agentAcc, err := e.state.GetAccount(esc.Agent)
	if err != nil {
		return err
	}
	agentAcc = ensureAccount(agentAcc)
	providerAcc, err := e.state.GetAccount(esc.Provider)
	if err != nil {
		return err
	}
	providerAcc = ensureAccount(providerAcc)
	if agentAcc.Balance > math.MaxUint64-refund {
		return ErrArithmeticOverflow
	}
	if providerAcc.Balance > math.MaxUint64-payment {
		return ErrArithmeticOverflow
	}

	// The holding account carries the escrow record, so both sides are moved
	// by raw balance adjustment rather than the standard transfer primitive.
	if err := e.state.VaultDebit(esc.ID, capability, esc.Amount); err != nil {
		return err
	}
	if refund > 0 {
		agentAcc.Balance += refund
		if err := e.state.PutAccount(esc.Agent, agentAcc); err != nil {
			return err
		}
	}
	if payment > 0 {
		providerAcc.Balance += payment
		if err := e.state.PutAccount(esc.Provider, providerAcc); err != nil {
			return err
		}
	}

	esc.Status = EscrowResolved
	score := qualityScore
	pct := refundPercentage
	esc.QualityScore = &score
	esc.RefundPercentage = &pct
	if err := e.storeEscrow(esc); err != nil {
		return err
	}

	// The agent's inbound quality record is the raw score; the provider's is
	// the delivered-quality proxy 100-refund, with the categorization
	// thresholds mirrored the same way.
	if _, err := e.reputation.RecordOutcome(esc.Agent, reputation.EntityAgent, qualityScore, refundPercentage); err != nil {
		return err
	}
	delivered := 100 - refundPercentage
	if _, err := e.reputation.RecordOutcome(esc.Provider, reputation.EntityProvider, delivered, delivered); err != nil {
		return err
	}

	e.emit(NewResolvedEvent(esc, refund, payment, verifier))
	return nil
}
