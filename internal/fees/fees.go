// Package fees derives protocol and subject fees from a gross curve price.
package fees

import "math/bits"

// Fee percentages, expressed in basis points of the gross price.
const (
	// BasisPoints is the fee denominator: 10000 = 100%.
	BasisPoints = 10_000
	// ProtocolFeeBps is the cut accrued to the protocol fee account.
	ProtocolFeeBps = 500
	// SubjectFeeBps is the cut paid directly to the subject.
	SubjectFeeBps = 500
)

// Combined fee percentages must never exceed 100%.
const _ uint64 = BasisPoints - ProtocolFeeBps - SubjectFeeBps

// Split returns the protocol fee and subject fee for a gross price.
// Both are floor(price * bps / BasisPoints). Fees are added on top of
// the price on a buy and subtracted from it on a sell; that asymmetry
// is part of the contract.
func Split(price uint64) (protocolFee, subjectFee uint64) {
	return bpsOf(price, ProtocolFeeBps), bpsOf(price, SubjectFeeBps)
}

// bpsOf computes floor(price*bps/BasisPoints) with a 128-bit intermediate.
func bpsOf(price, bps uint64) uint64 {
	hi, lo := bits.Mul64(price, bps)
	// bps < BasisPoints guarantees hi < BasisPoints, so Div64 cannot trap.
	q, _ := bits.Div64(hi, lo, BasisPoints)
	return q
}
