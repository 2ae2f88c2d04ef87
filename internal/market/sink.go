package market

import "shares-market/internal/domain"

// TradeSink receives the record emitted by every successful trade.
// Sinks are invoked under the market lock so they observe events in
// sequence order; implementations must return quickly (hand off to a
// channel for anything slow).
type TradeSink interface {
	TradeExecuted(ev domain.TradeEvent)
}

// TradeSinkFunc adapts a function to the TradeSink interface.
type TradeSinkFunc func(ev domain.TradeEvent)

// TradeExecuted implements TradeSink.
func (f TradeSinkFunc) TradeExecuted(ev domain.TradeEvent) { f(ev) }

// MultiSink fans a trade event out to several sinks in order.
type MultiSink []TradeSink

// TradeExecuted implements TradeSink.
func (s MultiSink) TradeExecuted(ev domain.TradeEvent) {
	for _, sink := range s {
		sink.TradeExecuted(ev)
	}
}

// PayoutSink receives funds the market pays to external accounts:
// subject fees, seller proceeds, and protocol-fee withdrawals. Actual
// fund delivery is the host environment's responsibility.
type PayoutSink interface {
	Pay(to domain.Address, amount uint64)
}

// PayoutSinkFunc adapts a function to the PayoutSink interface.
type PayoutSinkFunc func(to domain.Address, amount uint64)

// Pay implements PayoutSink.
func (f PayoutSinkFunc) Pay(to domain.Address, amount uint64) { f(to, amount) }
