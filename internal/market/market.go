// Package market owns the authoritative trading state: per-subject share
// supplies, per-subject-per-owner balances, the liquidity pool backing
// sell-side payouts, and the accumulated protocol fee. All of it lives
// behind one mutex; every mutating operation validates first and commits
// only when no check can fail, so a rejected operation leaves no trace.
package market

import (
	"math"
	"math/bits"
	"sync"
	"time"

	"shares-market/internal/curve"
	"shares-market/internal/domain"
	"shares-market/internal/fees"
)

// balanceKey is the flat composite key for the balance table. A single
// map keyed by (subject, owner) replaces the nested subject -> owner ->
// balance layout while keeping the same lazy-creation semantics.
type balanceKey struct {
	subject domain.Address
	owner   domain.Address
}

// Market is the shared mutable aggregate. At most one mutation is in
// flight at a time; read-only queries take the same lock but never block
// on anything slower than map access.
type Market struct {
	mu sync.Mutex

	supply   map[domain.Address]uint64 // absent entry means supply 0
	balances map[balanceKey]uint64     // absent entry means balance 0

	pool           uint64 // liquidity backing sell payouts
	protocolFees   uint64 // accrued, withdrawable by the authority
	feeDestination domain.Address

	seq     uint64 // last assigned trade sequence number
	trades  TradeSink
	payouts PayoutSink
	now     func() int64
}

// Options configures a new Market.
type Options struct {
	// FeeDestination receives protocol fees on withdrawal. The authority
	// may change it later.
	FeeDestination domain.Address

	// Trades receives the record of every successful trade. Optional.
	Trades TradeSink

	// Payouts receives subject fees, seller proceeds, and withdrawn
	// protocol fees. Optional.
	Payouts PayoutSink

	// Now returns the current Unix time in milliseconds. Defaults to the
	// wall clock; tests override it.
	Now func() int64
}

// New creates an empty market and the single Authority capability for it.
// The liquidity pool and protocol fee account start at zero.
func New(opts Options) (*Market, *Authority) {
	m := &Market{
		supply:         make(map[domain.Address]uint64),
		balances:       make(map[balanceKey]uint64),
		feeDestination: opts.FeeDestination,
		trades:         opts.Trades,
		payouts:        opts.Payouts,
		now:            opts.Now,
	}
	if m.now == nil {
		m.now = func() int64 { return time.Now().UnixMilli() }
	}
	return m, &Authority{market: m}
}

// Buy mints amount shares of subject for trader, consuming funds from
// payment. It returns the unconsumed remainder of the payment. The first
// share of a fresh curve is free and only the subject may claim it.
func (m *Market) Buy(trader, subject domain.Address, amount, payment uint64) (refund uint64, err error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sup := m.supply[subject]
	if sup == 0 && trader != subject {
		return 0, ErrOnlyFirstBuyerIsSubject
	}

	// The supply counter must not wrap.
	newSup, carry := add64(sup, amount)
	if carry != 0 {
		return 0, ErrInvalidAmount
	}

	price := curve.Price(sup, amount)
	protocolFee, subjectFee := fees.Split(price)

	total, carry := add64(price, protocolFee)
	total, carry2 := bits.Add64(total, subjectFee, carry)
	if carry2 != 0 || payment < total {
		return 0, ErrInsufficientPayment
	}

	// Commit. Nothing below can fail.
	m.balances[balanceKey{subject, trader}] += amount
	m.supply[subject] = newSup
	m.protocolFees += protocolFee
	m.pool += price - subjectFee

	m.pay(subject, subjectFee)
	m.emit(domain.TradeEvent{
		Trader:      trader,
		Subject:     subject,
		IsBuy:       true,
		Amount:      amount,
		Price:       price,
		ProtocolFee: protocolFee,
		SubjectFee:  subjectFee,
		Supply:      newSup,
	})

	return payment - total, nil
}

// Sell burns amount shares of subject held by trader and pays out the
// net proceeds. The range being vacated is priced at the post-sale
// supply, and the pool must cover the full gross price before it is
// redistributed. Returns the net amount paid to the seller.
func (m *Market) Sell(trader, subject domain.Address, amount uint64) (payout uint64, err error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sup := m.supply[subject]
	if sup < amount {
		return 0, ErrInsufficientShares
	}
	if sup == amount {
		return 0, ErrCannotSellLastShare
	}

	key := balanceKey{subject, trader}
	bal := m.balances[key]
	if bal < amount {
		return 0, ErrInsufficientShares
	}

	price := curve.Price(sup-amount, amount)
	protocolFee, subjectFee := fees.Split(price)
	sellerNet := price - protocolFee - subjectFee

	if m.pool < price {
		return 0, ErrInsufficientLiquidity
	}

	// Commit. Nothing below can fail.
	m.balances[key] = bal - amount
	m.supply[subject] = sup - amount
	m.pool -= price
	m.protocolFees += protocolFee

	m.pay(trader, sellerNet)
	m.pay(subject, subjectFee)
	m.emit(domain.TradeEvent{
		Trader:      trader,
		Subject:     subject,
		IsBuy:       false,
		Amount:      amount,
		Price:       price,
		ProtocolFee: protocolFee,
		SubjectFee:  subjectFee,
		Supply:      sup - amount,
	})

	return sellerNet, nil
}

// AddLiquidity moves amount from the attached payment into the pool and
// returns the remainder. Deliberately not capability-gated: anyone with
// funds may top up the pool.
func (m *Market) AddLiquidity(amount, payment uint64) (refund uint64, err error) {
	if payment < amount {
		return 0, ErrInsufficientPayment
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pool += amount
	return payment - amount, nil
}

// CurrentSupply returns the share supply for subject; 0 for unknown subjects.
func (m *Market) CurrentSupply(subject domain.Address) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply[subject]
}

// SharesBalance returns owner's balance for subject; 0 for unknown keys.
func (m *Market) SharesBalance(subject, owner domain.Address) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{subject, owner}]
}

// BuyPrice returns the gross price of buying amount shares of subject.
func (m *Market) BuyPrice(subject domain.Address, amount uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return curve.Price(m.supply[subject], amount)
}

// BuyPriceAfterFee returns the total a buyer must pay: gross price plus
// both fees. Saturates to MaxUint64 when the total does not fit, matching
// the charge Buy would reject as unpayable.
func (m *Market) BuyPriceAfterFee(subject domain.Address, amount uint64) uint64 {
	price := m.BuyPrice(subject, amount)
	protocolFee, subjectFee := fees.Split(price)
	total, carry := add64(price, protocolFee)
	total, carry2 := bits.Add64(total, subjectFee, carry)
	if carry2 != 0 {
		return math.MaxUint64
	}
	return total
}

// SellPrice returns the gross price of selling amount shares of subject.
// It enforces the same supply preconditions as Sell.
func (m *Market) SellPrice(subject domain.Address, amount uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sup := m.supply[subject]
	if sup < amount {
		return 0, ErrInsufficientShares
	}
	if sup == amount {
		return 0, ErrCannotSellLastShare
	}
	return curve.Price(sup-amount, amount), nil
}

// SellPriceAfterFee returns the net proceeds of selling amount shares:
// gross price minus both fees.
func (m *Market) SellPriceAfterFee(subject domain.Address, amount uint64) (uint64, error) {
	price, err := m.SellPrice(subject, amount)
	if err != nil {
		return 0, err
	}
	protocolFee, subjectFee := fees.Split(price)
	return price - protocolFee - subjectFee, nil
}

// PoolBalance returns the current liquidity pool balance.
func (m *Market) PoolBalance() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool
}

// ProtocolFeeBalance returns the accrued, not yet withdrawn protocol fee.
func (m *Market) ProtocolFeeBalance() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protocolFees
}

// FeeDestination returns the address protocol fees are withdrawn to.
func (m *Market) FeeDestination() domain.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feeDestination
}

// pay forwards funds to the payout sink. Zero payouts are suppressed.
// Called with the lock held.
func (m *Market) pay(to domain.Address, amount uint64) {
	if amount == 0 || m.payouts == nil {
		return
	}
	m.payouts.Pay(to, amount)
}

// emit assigns the next sequence number and timestamp, then hands the
// event to the trade sink. Called with the lock held so sinks observe
// events in sequence order.
func (m *Market) emit(ev domain.TradeEvent) {
	m.seq++
	ev.Seq = m.seq
	ev.TimestampMs = m.now()
	if m.trades != nil {
		m.trades.TradeExecuted(ev)
	}
}

func add64(a, b uint64) (sum, carry uint64) {
	return bits.Add64(a, b, 0)
}
