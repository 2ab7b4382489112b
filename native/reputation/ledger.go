package reputation

import (
	"errors"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// storage abstracts the subset of state manager functionality required by the
// reputation ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var reputationPrefix = []byte("reputation/entity/")

func reputationKey(entity [20]byte) []byte {
	digest := ethcrypto.Keccak256(entity[:])
	return []byte(fmt.Sprintf("%s%x", reputationPrefix, digest))
}

var (
	// ErrLedgerNotInitialised marks calls against an unconfigured ledger.
	ErrLedgerNotInitialised = errors.New("reputation: ledger not initialised")
	// ErrAlreadyInitialised marks duplicate reputation initialisation for an
	// entity.
	ErrAlreadyInitialised = errors.New("reputation: entity already initialised")
	// ErrInvalidQuality marks out-of-range quality or refund inputs.
	ErrInvalidQuality = errors.New("reputation: quality and refund values must be 0-100")
)

// Ledger persists per-entity reputation records. Records are created once,
// mutated exclusively through dispute resolution, and never destroyed.
type Ledger struct {
	store storage
	nowFn func() int64
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{
		store: store,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the wall clock used for record timestamps. Primarily
// leveraged in tests to provide deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil {
		return
	}
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func (l *Ledger) load(entity [20]byte) (*EntityReputation, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, ErrLedgerNotInitialised
	}
	var stored EntityReputation
	ok, err := l.store.KVGet(reputationKey(entity), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &stored, true, nil
}

func (l *Ledger) persist(rep *EntityReputation) error {
	if l == nil || l.store == nil {
		return ErrLedgerNotInitialised
	}
	return l.store.KVPut(reputationKey(rep.Entity), rep)
}

// Init creates the reputation record for an entity with the neutral starting
// score. Initialising an entity twice fails.
func (l *Ledger) Init(entity [20]byte, entityType EntityType) (*EntityReputation, error) {
	if l == nil || l.store == nil {
		return nil, ErrLedgerNotInitialised
	}
	if !entityType.Valid() {
		return nil, fmt.Errorf("reputation: invalid entity type %d", entityType)
	}
	if _, ok, err := l.load(entity); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInitialised
	}
	now := l.now()
	rep := &EntityReputation{
		Entity:      entity,
		EntityType:  entityType,
		Score:       InitialScore,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := l.persist(rep); err != nil {
		return nil, err
	}
	return rep.Clone(), nil
}

// Get fetches the reputation record for an entity. A zero-valued record with
// the neutral score is returned when the entity has no history yet, so callers
// can always compute dispute costs.
func (l *Ledger) Get(entity [20]byte) (*EntityReputation, bool, error) {
	rep, ok, err := l.load(entity)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return &EntityReputation{Entity: entity, Score: InitialScore}, false, nil
	}
	return rep.Clone(), true, nil
}

// NoteDisputeFiled increments the entity's disputes-filed counter. The record
// is created implicitly when the entity has never been initialised.
func (l *Ledger) NoteDisputeFiled(entity [20]byte) error {
	rep, ok, err := l.load(entity)
	if err != nil {
		return err
	}
	now := l.now()
	if !ok {
		rep = &EntityReputation{Entity: entity, Score: InitialScore, CreatedAt: now}
	}
	rep.DisputesFiled = satAdd64(rep.DisputesFiled, 1)
	rep.LastUpdated = now
	return l.persist(rep)
}

// RecordOutcome folds one resolved transaction into the entity's counters and
// recomputes the derived score. qualityReceived is the entity's inbound
// quality record and refundPct the refund percentage from the entity's own
// perspective (providers pass the mirrored 100-refund values).
func (l *Ledger) RecordOutcome(entity [20]byte, entityType EntityType, qualityReceived, refundPct uint8) (*EntityReputation, error) {
	if qualityReceived > 100 || refundPct > 100 {
		return nil, ErrInvalidQuality
	}
	rep, ok, err := l.load(entity)
	if err != nil {
		return nil, err
	}
	now := l.now()
	if !ok {
		rep = &EntityReputation{Entity: entity, EntityType: entityType, Score: InitialScore, CreatedAt: now}
	}
	applyOutcome(rep, qualityReceived, refundPct, now)
	if err := l.persist(rep); err != nil {
		return nil, err
	}
	return rep.Clone(), nil
}
