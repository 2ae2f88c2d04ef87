package market

import "errors"

// Every market error is a precondition failure: the operation aborts
// before any state mutation and the caller must resubmit with corrected
// inputs.
var (
	// ErrInsufficientPayment is returned when the attached funds do not
	// cover the computed total cost.
	ErrInsufficientPayment = errors.New("insufficient payment")

	// ErrOnlyFirstBuyerIsSubject is returned when someone other than the
	// subject attempts to mint the free bootstrap unit of a fresh curve.
	ErrOnlyFirstBuyerIsSubject = errors.New("only the subject may buy the first share")

	// ErrCannotSellLastShare is returned when a sell would reduce a
	// subject's supply to zero.
	ErrCannotSellLastShare = errors.New("cannot sell the last share")

	// ErrInsufficientShares is returned when the seller's balance, or the
	// subject's supply record, does not cover the requested amount.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInsufficientLiquidity is returned when the pool cannot cover the
	// gross price owed on a sell.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInvalidAmount is returned when a trade amount of zero is requested.
	ErrInvalidAmount = errors.New("amount must be at least 1")
)
