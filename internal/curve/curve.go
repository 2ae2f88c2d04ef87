// Package curve implements the closed-form bonding-curve pricing function.
// The price of share unit k (1-indexed from zero supply) is proportional
// to k^2, so the cost of a contiguous range is a difference of two
// cumulative sum-of-squares values.
package curve

import (
	"math"
	"math/big"
)

const (
	// Precision converts raw curve units into the smallest value unit.
	Precision = 1_000_000_000
	// ScalingFactor flattens the curve; the divisor applied after Precision.
	ScalingFactor = 16
)

var (
	precisionBig = big.NewInt(Precision)
	scalingBig   = big.NewInt(ScalingFactor)
)

// Price returns the cost, in the smallest value unit, of moving a
// subject's supply from supply to supply+amount.
//
// The first unit on a curve is free: Price(0, 1) == 0. For supply 0 and
// amount > 1 the range is priced as if the curve started at one unit.
// Intermediate arithmetic is carried in arbitrary precision; division is
// floor division throughout. A result wider than 64 bits saturates to
// math.MaxUint64, so the price stays non-decreasing in both supply and
// amount and a range that deep can never be bought for less than the
// full uint64 range.
func Price(supply, amount uint64) uint64 {
	if amount == 0 {
		return 0
	}

	var raw *big.Int
	if supply == 0 {
		if amount == 1 {
			return 0
		}
		raw = sumOfSquares(new(big.Int).SetUint64(amount - 1))
	} else {
		upper := new(big.Int).SetUint64(supply)
		upper.Add(upper, new(big.Int).SetUint64(amount-1))
		raw = sumOfSquares(upper)
		raw.Sub(raw, sumOfSquares(new(big.Int).SetUint64(supply-1)))
	}

	raw.Mul(raw, precisionBig)
	raw.Quo(raw, scalingBig)
	if !raw.IsUint64() {
		return math.MaxUint64
	}
	return raw.Uint64()
}

// sumOfSquares returns n*(n+1)*(2n+1)/6, the sum of squares 1..n.
// The product is always divisible by 6, so the division is exact.
func sumOfSquares(n *big.Int) *big.Int {
	one := big.NewInt(1)
	s := new(big.Int).Add(n, one)        // n+1
	t := new(big.Int).Lsh(n, 1)          // 2n
	t.Add(t, one)                        // 2n+1
	s.Mul(s, n)
	s.Mul(s, t)
	return s.Quo(s, big.NewInt(6))
}
