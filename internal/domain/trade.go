package domain

// TradeEvent is the immutable record emitted by the market on every
// successful buy or sell. It is the sole externally observable audit
// trail; the indexer replays trade history from these records alone.
type TradeEvent struct {
	Seq         uint64  // core-assigned sequence number, strictly increasing
	Trader      Address // account that executed the trade
	Subject     Address // subject whose curve was traded
	IsBuy       bool    // direction: true = buy, false = sell
	Amount      uint64  // share units minted or burned
	Price       uint64  // gross curve price, smallest value unit
	ProtocolFee uint64  // fee accrued to the protocol account
	SubjectFee  uint64  // fee paid to the subject
	Supply      uint64  // subject supply after the trade
	TimestampMs int64   // Unix timestamp in milliseconds
}

// Direction returns the canonical direction string for storage keys.
func (e *TradeEvent) Direction() string {
	if e.IsBuy {
		return "buy"
	}
	return "sell"
}
