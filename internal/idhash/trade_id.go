// Package idhash derives deterministic record identifiers.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"shares-market/internal/domain"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(trader|subject|direction|seq)
// Returns hex-encoded hash (64 characters). The sequence number makes
// the ID unique; the rest makes collisions across replays detectable.
func ComputeTradeID(trader, subject domain.Address, direction string, seq uint64) string {
	data := fmt.Sprintf("%s|%s|%s|%d", trader, subject, direction, seq)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeTradeIDFromEvent derives the trade_id for an emitted event.
func ComputeTradeIDFromEvent(ev *domain.TradeEvent) string {
	return ComputeTradeID(ev.Trader, ev.Subject, ev.Direction(), ev.Seq)
}
