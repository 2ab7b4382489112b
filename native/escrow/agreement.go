package escrow

import "fmt"

// WorkAgreement declares the structured scope an escrowed request was paid
// for. The record shape is persisted but no transition is gated on it yet;
// it exists so scoped agreements can later feed dispute resolution without a
// storage migration.
type WorkAgreement struct {
	EscrowID        [32]byte
	Query           string
	RequiredFields  uint8
	MinRecords      uint32
	MaxAgeDays      uint32
	MinQualityScore uint8
	CreatedAt       int64
}

// MaxAgreementQueryLength bounds the scope query in bytes.
const MaxAgreementQueryLength = 128

// Validate ensures the agreement payload is well formed.
func (w *WorkAgreement) Validate() error {
	if w == nil {
		return fmt.Errorf("escrow: nil work agreement")
	}
	if w.EscrowID == ([32]byte{}) {
		return fmt.Errorf("escrow: agreement escrow id required")
	}
	if len(w.Query) == 0 || len(w.Query) > MaxAgreementQueryLength {
		return fmt.Errorf("escrow: agreement query must be non-empty and at most %d bytes", MaxAgreementQueryLength)
	}
	if w.MinQualityScore > 100 {
		return ErrInvalidQualityScore
	}
	return nil
}

// ProviderPenalties tracks strikes and suspensions accrued by a provider.
// Like WorkAgreement it is a forward-compatible record: suspension is not yet
// enforced by release or resolution.
type ProviderPenalties struct {
	Provider           [20]byte
	StrikeCount        uint8
	Suspended          bool
	SuspensionEnd      *int64
	TotalRefundsIssued uint64
	PoorQualityCount   uint32
	CreatedAt          int64
	LastUpdated        int64
}

// Clone returns a deep copy of the penalties record.
func (p *ProviderPenalties) Clone() *ProviderPenalties {
	if p == nil {
		return nil
	}
	clone := *p
	if p.SuspensionEnd != nil {
		end := *p.SuspensionEnd
		clone.SuspensionEnd = &end
	}
	return &clone
}

// Validate ensures the penalties payload is well formed.
func (p *ProviderPenalties) Validate() error {
	if p == nil {
		return fmt.Errorf("escrow: nil provider penalties")
	}
	if p.Provider == ([20]byte{}) {
		return fmt.Errorf("escrow: penalties provider required")
	}
	if p.SuspensionEnd != nil && !p.Suspended {
		return fmt.Errorf("escrow: suspension end set without suspension")
	}
	return nil
}
