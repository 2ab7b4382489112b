package escrow

import (
	"encoding/hex"
	"strconv"

	"github.com/x402kamiyo/x402resolve/core/types"
)

const (
	EventTypeEscrowInitialized = "escrow.initialized"
	EventTypeFundsReleased     = "escrow.released"
	EventTypeDisputeMarked     = "escrow.disputed"
	EventTypeDisputeResolved   = "escrow.resolved"
)

// verifierIdentity renders the resolving authority (a verifier public key or
// an oracle feed address) for event attribution.
func verifierIdentity(raw []byte) string {
	return hex.EncodeToString(raw)
}

// NewInitializedEvent returns the canonical payload emitted when an escrow is
// created and funded.
func NewInitializedEvent(e *Escrow) *types.Event {
	attrs := baseAttributes(e)
	if e != nil {
		attrs["agent"] = hex.EncodeToString(e.Agent[:])
		attrs["api"] = hex.EncodeToString(e.Provider[:])
		attrs["amount"] = strconv.FormatUint(e.Amount, 10)
		attrs["expiresAt"] = strconv.FormatInt(e.ExpiresAt, 10)
	}
	return &types.Event{Type: EventTypeEscrowInitialized, Attributes: attrs}
}

// NewReleasedEvent returns the canonical payload emitted when the full amount
// is paid out to the provider.
func NewReleasedEvent(e *Escrow, timestamp int64) *types.Event {
	attrs := baseAttributes(e)
	if e != nil {
		attrs["amount"] = strconv.FormatUint(e.Amount, 10)
		attrs["api"] = hex.EncodeToString(e.Provider[:])
	}
	attrs["timestamp"] = strconv.FormatInt(timestamp, 10)
	return &types.Event{Type: EventTypeFundsReleased, Attributes: attrs}
}

// NewDisputedEvent returns the canonical payload emitted when the agent files
// a quality dispute.
func NewDisputedEvent(e *Escrow, timestamp int64) *types.Event {
	attrs := baseAttributes(e)
	if e != nil {
		attrs["agent"] = hex.EncodeToString(e.Agent[:])
	}
	attrs["timestamp"] = strconv.FormatInt(timestamp, 10)
	return &types.Event{Type: EventTypeDisputeMarked, Attributes: attrs}
}

// NewResolvedEvent returns the canonical payload emitted when a dispute is
// settled, including the split and the resolving authority.
func NewResolvedEvent(e *Escrow, refund, payment uint64, verifier string) *types.Event {
	attrs := baseAttributes(e)
	if e != nil {
		if e.QualityScore != nil {
			attrs["qualityScore"] = strconv.FormatUint(uint64(*e.QualityScore), 10)
		}
		if e.RefundPercentage != nil {
			attrs["refundPercentage"] = strconv.FormatUint(uint64(*e.RefundPercentage), 10)
		}
	}
	attrs["refundAmount"] = strconv.FormatUint(refund, 10)
	attrs["paymentAmount"] = strconv.FormatUint(payment, 10)
	attrs["verifier"] = verifier
	return &types.Event{Type: EventTypeDisputeResolved, Attributes: attrs}
}

func baseAttributes(e *Escrow) map[string]string {
	attrs := make(map[string]string)
	if e == nil {
		return attrs
	}
	attrs["escrow"] = hex.EncodeToString(e.ID[:])
	attrs["transactionId"] = e.TransactionID
	return attrs
}
