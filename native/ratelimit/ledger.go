package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// storage abstracts the subset of state manager functionality required by the
// rate limit ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var limiterPrefix = []byte("ratelimit/entity/")

func limiterKey(entity [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", limiterPrefix, entity))
}

// ErrLedgerNotInitialised marks calls against an unconfigured ledger.
var ErrLedgerNotInitialised = errors.New("ratelimit: ledger not initialised")

type storedLimiter struct {
	Level Level
	Usage Usage
}

// Ledger persists per-entity rate limiter state keyed by entity address.
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

// SetNowFunc overrides the wall clock used for bucket calculations. Primarily
// intended for tests.
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

func (l *Ledger) load(entity [20]byte) (storedLimiter, bool, error) {
	if l == nil || l.store == nil {
		return storedLimiter{}, false, ErrLedgerNotInitialised
	}
	var stored storedLimiter
	ok, err := l.store.KVGet(limiterKey(entity), &stored)
	if err != nil {
		return storedLimiter{}, false, err
	}
	return stored, ok, nil
}

// SetLevel records the verification level for an entity. Unknown entities
// start at the basic tier, so calling this is only required for upgrades.
func (l *Ledger) SetLevel(entity [20]byte, level Level) error {
	if !level.Valid() {
		return fmt.Errorf("ratelimit: invalid verification level %d", level)
	}
	stored, _, err := l.load(entity)
	if err != nil {
		return err
	}
	stored.Level = level
	return l.store.KVPut(limiterKey(entity), &stored)
}

// Level reports the verification level currently assigned to an entity.
func (l *Ledger) Level(entity [20]byte) (Level, error) {
	stored, _, err := l.load(entity)
	if err != nil {
		return 0, err
	}
	return stored.Level, nil
}

// Allow checks and increments the entity's transaction counters against its
// tier ceilings. The updated usage is persisted only when admitted.
func (l *Ledger) Allow(entity [20]byte) error {
	stored, _, err := l.load(entity)
	if err != nil {
		return err
	}
	next, err := Check(stored.Level, l.now(), stored.Usage)
	if err != nil {
		return err
	}
	stored.Usage = next
	return l.store.KVPut(limiterKey(entity), &stored)
}

// NoteDispute checks and increments the entity's daily dispute counter.
func (l *Ledger) NoteDispute(entity [20]byte) error {
	stored, _, err := l.load(entity)
	if err != nil {
		return err
	}
	next, err := RecordDispute(stored.Level, l.now(), stored.Usage)
	if err != nil {
		return err
	}
	stored.Usage = next
	return l.store.KVPut(limiterKey(entity), &stored)
}
