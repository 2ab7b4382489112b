package reputation

import "math"

// Score bounds and component caps for the derived 0-1000 reputation score.
const (
	InitialScore uint16 = 500
	MaxScore     uint16 = 1000

	txComponentCap      uint16 = 500
	disputeComponentCap uint16 = 300
	qualityComponentCap uint16 = 200

	// neutralDisputeComponent applies while an entity has never filed a
	// dispute.
	neutralDisputeComponent uint16 = 150
)

// ComputeScore recomputes the reputation score from scratch out of the running
// counters. An entity with no transactions yet scores the neutral 500.
func ComputeScore(r *EntityReputation) uint16 {
	if r == nil || r.TotalTransactions == 0 {
		return InitialScore
	}

	txCount := r.TotalTransactions
	if txCount > 100 {
		txCount = 100
	}
	txComponent := uint16(txCount) * 5

	disputeComponent := neutralDisputeComponent
	if r.DisputesFiled > 0 {
		winRate := satMul64(r.DisputesWon, 100) / r.DisputesFiled
		component := satMul64(winRate, 3)
		if component > uint64(disputeComponentCap) {
			component = uint64(disputeComponentCap)
		}
		disputeComponent = uint16(component)
	}

	qualityComponent := uint16(r.AverageQuality) * 2
	if qualityComponent > qualityComponentCap {
		qualityComponent = qualityComponentCap
	}

	score := txComponent + disputeComponent + qualityComponent
	if score > MaxScore {
		score = MaxScore
	}
	return score
}

// DisputeCost computes the cost to file a dispute from the entity's historical
// dispute rate. Entities with no transaction history pay the base cost. The
// multiply saturates instead of wrapping: dispute cost is a counter-style
// quantity, not fund math.
func DisputeCost(r *EntityReputation, baseCost uint64) uint64 {
	if r == nil || r.TotalTransactions == 0 {
		return baseCost
	}
	disputeRate := satMul64(r.DisputesFiled, 100) / r.TotalTransactions

	var multiplier uint64
	switch {
	case disputeRate <= 20:
		multiplier = 1
	case disputeRate <= 40:
		multiplier = 2
	case disputeRate <= 60:
		multiplier = 5
	default:
		multiplier = 10
	}
	return satMul64(baseCost, multiplier)
}

// applyOutcome folds one resolved transaction into the running counters.
// qualityReceived is the inbound quality record for this entity (the raw
// quality score for an agent, the delivered-quality proxy 100-refundPct for a
// provider); refundPct drives the win/partial/loss categorization from this
// entity's perspective.
func applyOutcome(r *EntityReputation, qualityReceived, refundPct uint8, now int64) {
	r.TotalTransactions = satAdd64(r.TotalTransactions, 1)

	// Running mean over the post-increment transaction count.
	n := r.TotalTransactions
	if n == 0 {
		n = 1
	}
	totalQuality := satAdd64(satMul64(uint64(r.AverageQuality), n-1), uint64(qualityReceived))
	r.AverageQuality = uint8(totalQuality / n)

	switch {
	case refundPct >= 75:
		r.DisputesWon = satAdd64(r.DisputesWon, 1)
	case refundPct >= 25:
		r.DisputesPartial = satAdd64(r.DisputesPartial, 1)
	default:
		r.DisputesLost = satAdd64(r.DisputesLost, 1)
	}

	r.Score = ComputeScore(r)
	r.LastUpdated = now
}

func satAdd64(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func satMul64(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}
