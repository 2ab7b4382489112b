package reputation

import "fmt"

// EntityType distinguishes the two sides of a pay-per-use transaction.
type EntityType uint8

const (
	// EntityAgent is the paying side of a transaction.
	EntityAgent EntityType = iota
	// EntityProvider is the API side delivering the paid-for work.
	EntityProvider
)

// Valid reports whether the entity type is within the supported range.
func (t EntityType) Valid() bool {
	return t == EntityAgent || t == EntityProvider
}

func (t EntityType) String() string {
	switch t {
	case EntityAgent:
		return "agent"
	case EntityProvider:
		return "provider"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// EntityReputation tracks the long-lived transaction and dispute history of a
// single entity. Counters are append-only and saturating: they never reset and
// never wrap. Score and AverageQuality are always recomputed from the counters
// rather than adjusted incrementally.
type EntityReputation struct {
	Entity            [20]byte
	EntityType        EntityType
	TotalTransactions uint64
	DisputesFiled     uint64
	DisputesWon       uint64
	DisputesPartial   uint64
	DisputesLost      uint64
	AverageQuality    uint8
	Score             uint16
	CreatedAt         int64
	LastUpdated       int64
}

// Clone returns a copy of the reputation record so callers can safely mutate
// it without affecting the stored instance.
func (r *EntityReputation) Clone() *EntityReputation {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
