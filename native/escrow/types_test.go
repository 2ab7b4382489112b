package escrow

import (
	"errors"
	"strings"
	"testing"
)

func TestEscrowID(t *testing.T) {
	first, err := EscrowID("tx-id")
	if err != nil {
		t.Fatalf("escrow id: %v", err)
	}
	second, err := EscrowID("tx-id")
	if err != nil {
		t.Fatalf("escrow id: %v", err)
	}
	if first != second {
		t.Fatalf("derivation not deterministic")
	}
	other, err := EscrowID("tx-id-2")
	if err != nil {
		t.Fatalf("escrow id: %v", err)
	}
	if other == first {
		t.Fatalf("distinct transaction ids derived the same escrow id")
	}

	if _, err := EscrowID(""); !errors.Is(err, ErrInvalidTransactionID) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidTransactionID)
	}
	if _, err := EscrowID(strings.Repeat("a", MaxTransactionIDLength+1)); !errors.Is(err, ErrInvalidTransactionID) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidTransactionID)
	}
	if _, err := EscrowID(strings.Repeat("a", MaxTransactionIDLength)); err != nil {
		t.Fatalf("max length id rejected: %v", err)
	}
}

func TestEscrowStatus(t *testing.T) {
	for _, status := range []EscrowStatus{EscrowActive, EscrowReleased, EscrowDisputed, EscrowResolved} {
		if !status.Valid() {
			t.Fatalf("status %v invalid", status)
		}
	}
	if EscrowStatus(4).Valid() {
		t.Fatalf("out-of-range status reported valid")
	}

	if EscrowActive.Terminal() || EscrowDisputed.Terminal() {
		t.Fatalf("non-terminal status reported terminal")
	}
	if !EscrowReleased.Terminal() || !EscrowResolved.Terminal() {
		t.Fatalf("terminal status reported non-terminal")
	}

	if EscrowActive.String() != "active" || EscrowResolved.String() != "resolved" {
		t.Fatalf("status strings: %q %q", EscrowActive.String(), EscrowResolved.String())
	}
}

func TestEscrowClone(t *testing.T) {
	score := uint8(80)
	pct := uint8(20)
	original := &Escrow{
		TransactionID:    "tx-clone",
		QualityScore:     &score,
		RefundPercentage: &pct,
	}
	clone := original.Clone()
	*clone.QualityScore = 10
	*clone.RefundPercentage = 90
	if *original.QualityScore != 80 || *original.RefundPercentage != 20 {
		t.Fatalf("clone shares pointers with original")
	}
}

func TestSanitizeEscrow(t *testing.T) {
	base := func() *Escrow {
		return &Escrow{
			TransactionID: "tx-sane",
			Status:        EscrowActive,
			CreatedAt:     100,
			ExpiresAt:     200,
		}
	}

	if _, err := SanitizeEscrow(base()); err != nil {
		t.Fatalf("sanitize valid escrow: %v", err)
	}
	if _, err := SanitizeEscrow(nil); err == nil {
		t.Fatalf("nil escrow accepted")
	}

	bad := base()
	bad.TransactionID = ""
	if _, err := SanitizeEscrow(bad); !errors.Is(err, ErrInvalidTransactionID) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidTransactionID)
	}

	bad = base()
	bad.Status = EscrowStatus(9)
	if _, err := SanitizeEscrow(bad); err == nil {
		t.Fatalf("invalid status accepted")
	}

	bad = base()
	bad.ExpiresAt = bad.CreatedAt - 1
	if _, err := SanitizeEscrow(bad); err == nil {
		t.Fatalf("expiry before creation accepted")
	}

	bad = base()
	over := uint8(101)
	bad.QualityScore = &over
	if _, err := SanitizeEscrow(bad); !errors.Is(err, ErrInvalidQualityScore) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidQualityScore)
	}

	bad = base()
	bad.RefundPercentage = &over
	if _, err := SanitizeEscrow(bad); !errors.Is(err, ErrInvalidRefundPercentage) {
		t.Fatalf("err = %v, want %v", err, ErrInvalidRefundPercentage)
	}
}
