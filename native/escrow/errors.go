package escrow

import "errors"

// Failure modes surfaced by the escrow engine. Input validation and state
// guards are always checked before any balance or record mutation, so a
// returned error implies no effect was applied.
var (
	ErrInvalidAmount            = errors.New("escrow: amount below minimum")
	ErrAmountTooLarge           = errors.New("escrow: amount exceeds maximum")
	ErrInvalidTimeLock          = errors.New("escrow: time lock must be between 1 hour and 30 days")
	ErrInvalidTransactionID     = errors.New("escrow: transaction id must be non-empty and at most 64 bytes")
	ErrEscrowNotFound           = errors.New("escrow: not found")
	ErrEscrowExists             = errors.New("escrow: transaction id already in use")
	ErrInsufficientFunds        = errors.New("escrow: insufficient agent balance")
	ErrInsufficientReserve      = errors.New("escrow: amount below holding account reserve floor")
	ErrInvalidStatus            = errors.New("escrow: invalid status for this operation")
	ErrUnauthorized             = errors.New("escrow: unauthorized caller")
	ErrTimeLockNotExpired       = errors.New("escrow: time lock not expired")
	ErrDisputeWindowExpired     = errors.New("escrow: dispute window expired")
	ErrInsufficientDisputeFunds = errors.New("escrow: insufficient funds to cover dispute cost")
	ErrInvalidQualityScore      = errors.New("escrow: quality score must be 0-100")
	ErrInvalidRefundPercentage  = errors.New("escrow: refund percentage must be 0-100")
	ErrInvalidSignature         = errors.New("escrow: invalid verifier signature")
	ErrInvalidAttestation       = errors.New("escrow: invalid oracle attestation")
	ErrStaleAttestation         = errors.New("escrow: oracle attestation outside freshness window")
	ErrQualityScoreMismatch     = errors.New("escrow: quality score does not match oracle attestation")
	ErrArithmeticOverflow       = errors.New("escrow: arithmetic overflow")
)
