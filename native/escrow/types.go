package escrow

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// EscrowStatus represents the lifecycle states supported by the escrow engine.
type EscrowStatus uint8

const (
	// EscrowActive marks a funded escrow awaiting release or dispute.
	EscrowActive EscrowStatus = iota
	// EscrowReleased marks funds paid out in full to the provider.
	EscrowReleased
	// EscrowDisputed marks an agent-filed quality dispute awaiting resolution.
	EscrowDisputed
	// EscrowResolved marks a dispute settled with a refund split.
	EscrowResolved
)

// Validation bounds for new escrows. Amounts are denominated in value units;
// durations in seconds.
const (
	MinTimeLock     int64  = 3_600
	MaxTimeLock     int64  = 2_592_000
	MinEscrowAmount uint64 = 1_000_000
	MaxEscrowAmount uint64 = 1_000_000_000_000

	// BaseDisputeCost is the cost to file a dispute before the historical
	// dispute-rate multiplier is applied.
	BaseDisputeCost uint64 = 1_000_000

	// MaxTransactionIDLength bounds the caller-supplied transaction id in bytes.
	MaxTransactionIDLength = 64
)

// Escrow captures the metadata and runtime status of a single pay-per-use
// transaction. The identifier is the keccak256 hash of the caller-supplied
// transaction id, which doubles as the derivation key for the holding account.
type Escrow struct {
	ID            [32]byte
	Agent         [20]byte
	Provider      [20]byte
	Amount        uint64
	Status        EscrowStatus
	CreatedAt     int64
	ExpiresAt     int64
	TransactionID string
	Bump          uint8

	// QualityScore and RefundPercentage are set exactly once, at resolution.
	QualityScore     *uint8
	RefundPercentage *uint8
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.QualityScore != nil {
		score := *e.QualityScore
		clone.QualityScore = &score
	}
	if e.RefundPercentage != nil {
		pct := *e.RefundPercentage
		clone.RefundPercentage = &pct
	}
	return &clone
}

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowActive, EscrowReleased, EscrowDisputed, EscrowResolved:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowReleased || s == EscrowResolved
}

func (s EscrowStatus) String() string {
	switch s {
	case EscrowActive:
		return "active"
	case EscrowReleased:
		return "released"
	case EscrowDisputed:
		return "disputed"
	case EscrowResolved:
		return "resolved"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ValidateTransactionID checks the caller-supplied transaction id bounds. The
// id is immutable after creation and globally unique per escrow.
func ValidateTransactionID(id string) error {
	if len(id) == 0 || len(id) > MaxTransactionIDLength {
		return ErrInvalidTransactionID
	}
	return nil
}

// EscrowID derives the stable 32-byte identifier for a transaction id.
func EscrowID(transactionID string) ([32]byte, error) {
	if err := ValidateTransactionID(transactionID); err != nil {
		return [32]byte{}, err
	}
	return ethcrypto.Keccak256Hash([]byte(transactionID)), nil
}

// SanitizeEscrow validates the supplied escrow definition, returning a cloned
// instance. The function does not mutate the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if err := ValidateTransactionID(clone.TransactionID); err != nil {
		return nil, err
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	if clone.ExpiresAt < clone.CreatedAt {
		return nil, fmt.Errorf("escrow expiry precedes creation")
	}
	if clone.QualityScore != nil && *clone.QualityScore > 100 {
		return nil, ErrInvalidQualityScore
	}
	if clone.RefundPercentage != nil && *clone.RefundPercentage > 100 {
		return nil, ErrInvalidRefundPercentage
	}
	return clone, nil
}
