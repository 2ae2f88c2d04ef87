package domain

// Holding is the indexer's mirror of a (trader, subject) share balance.
// Corresponds to the holdings table in PostgreSQL.
type Holding struct {
	Trader      Address // owner of the shares
	Subject     Address // subject whose shares are held
	ShareAmount uint64  // current balance
	UpdatedAt   int64   // last mutation timestamp (ms)
}

// VolumeStats aggregates mirrored trade events for one subject.
type VolumeStats struct {
	Subject     Address // subject the stats cover
	TradeCount  uint64  // number of trades in the window
	BuyVolume   uint64  // share units bought
	SellVolume  uint64  // share units sold
	GrossValue  uint64  // sum of gross prices
	ProtocolFee uint64  // sum of protocol fees
	SubjectFee  uint64  // sum of subject fees
}
