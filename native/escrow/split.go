package escrow

import "github.com/holiman/uint256"

// SplitAmount turns an escrowed amount and a refund percentage into the
// (refund, payment) pair. The product is formed in a wide intermediate before
// narrowing back to uint64, and the invariant refund+payment == amount holds
// for every valid input.
//
// Fund-amount arithmetic fails loudly: any unrepresentable intermediate or
// result returns ErrArithmeticOverflow instead of wrapping or saturating. With
// the configured amount ceiling the overflow paths are unreachable in
// practice, but the contract checks explicitly rather than trusting bounds.
func SplitAmount(amount uint64, refundPercentage uint8) (refund, payment uint64, err error) {
	if refundPercentage > 100 {
		return 0, 0, ErrInvalidRefundPercentage
	}
	product, overflow := new(uint256.Int).MulOverflow(
		uint256.NewInt(amount),
		uint256.NewInt(uint64(refundPercentage)),
	)
	if overflow {
		return 0, 0, ErrArithmeticOverflow
	}
	quotient := new(uint256.Int).Div(product, uint256.NewInt(100))
	if !quotient.IsUint64() {
		return 0, 0, ErrArithmeticOverflow
	}
	refund = quotient.Uint64()
	if refund > amount {
		return 0, 0, ErrArithmeticOverflow
	}
	return refund, amount - refund, nil
}
