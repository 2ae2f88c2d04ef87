package market

import "shares-market/internal/domain"

// Authority is the capability that authorizes protocol-fee withdrawal
// and fee-destination changes. Exactly one exists per market, returned
// from New; possession of the value is the entire authorization check.
// There are no role lists and no identity comparison. Go cannot forbid
// copying a struct, so the zero Authority is useless by construction:
// every method goes through the unexported market pointer set by New.
type Authority struct {
	market *Market
}

// WithdrawProtocolFees drains the protocol fee account to the configured
// fee destination and returns the amount moved. Draining an empty
// account is a no-op returning 0.
func (a *Authority) WithdrawProtocolFees() uint64 {
	m := a.market
	m.mu.Lock()
	defer m.mu.Unlock()

	amount := m.protocolFees
	m.protocolFees = 0
	m.pay(m.feeDestination, amount)
	return amount
}

// UpdateFeeDestination replaces the stored fee destination. Takes effect
// on the next withdrawal.
func (a *Authority) UpdateFeeDestination(addr domain.Address) {
	m := a.market
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeDestination = addr
}
