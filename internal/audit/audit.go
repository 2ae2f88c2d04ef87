// Package audit replays the mirrored trade event log and checks it for
// internal consistency. Every trade event carries enough state to
// recompute its price, fees, and the resulting supply, so the log can
// be verified without the market that produced it; the holdings mirror
// is then checked against the balances the replay arrives at.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log"

	"shares-market/internal/curve"
	"shares-market/internal/domain"
	"shares-market/internal/fees"
	"shares-market/internal/storage"
)

// Divergence is one mismatch between a stored value and the value the
// replay derived.
type Divergence struct {
	Seq      uint64 // 0 for end-state checks not tied to one event
	Field    string
	Key      string
	Stored   uint64
	Replayed uint64
}

func (d Divergence) String() string {
	if d.Seq != 0 {
		return fmt.Sprintf("seq %d %s[%s]: stored %d, replayed %d", d.Seq, d.Field, d.Key, d.Stored, d.Replayed)
	}
	return fmt.Sprintf("%s[%s]: stored %d, replayed %d", d.Field, d.Key, d.Stored, d.Replayed)
}

// Result is the outcome of auditing one subject.
type Result struct {
	Subject        domain.Address
	EventsReplayed int
	Divergences    []Divergence
}

// OK reports whether the replay found no divergences.
func (r *Result) OK() bool {
	return len(r.Divergences) == 0
}

// Auditor replays trade logs against the stored mirror.
type Auditor struct {
	events   storage.TradeEventStore
	holdings storage.HoldingStore
	logger   *log.Logger
}

// New creates an Auditor.
func New(events storage.TradeEventStore, holdings storage.HoldingStore, logger *log.Logger) *Auditor {
	if logger == nil {
		logger = log.Default()
	}
	return &Auditor{events: events, holdings: holdings, logger: logger}
}

// AuditSubject replays every stored trade event for a subject in
// sequence order and compares the replayed prices, fees, supply
// trajectory, and final balances against what the mirror holds.
func (a *Auditor) AuditSubject(ctx context.Context, subject domain.Address) (*Result, error) {
	events, err := a.events.GetBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("load trade log for %s: %w", subject, err)
	}

	result := &Result{Subject: subject}
	balances := make(map[domain.Address]uint64)

	var supply uint64
	var lastSeq uint64
	for _, ev := range events {
		result.EventsReplayed++

		if ev.Seq <= lastSeq {
			result.Divergences = append(result.Divergences, Divergence{
				Seq: ev.Seq, Field: "seq", Key: "order",
				Stored: ev.Seq, Replayed: lastSeq + 1,
			})
		}
		lastSeq = ev.Seq

		var wantSupply, wantPrice uint64
		if ev.IsBuy {
			wantSupply = supply + ev.Amount
			wantPrice = curve.Price(supply, ev.Amount)
		} else {
			if supply < ev.Amount {
				result.Divergences = append(result.Divergences, Divergence{
					Seq: ev.Seq, Field: "supply", Key: "oversell",
					Stored: ev.Amount, Replayed: supply,
				})
				continue
			}
			wantSupply = supply - ev.Amount
			// A sell prices the vacated range at the post-sale supply.
			wantPrice = curve.Price(wantSupply, ev.Amount)
		}

		if ev.Supply != wantSupply {
			result.Divergences = append(result.Divergences, Divergence{
				Seq: ev.Seq, Field: "supply", Key: subject.String(),
				Stored: ev.Supply, Replayed: wantSupply,
			})
		}
		if ev.Price != wantPrice {
			result.Divergences = append(result.Divergences, Divergence{
				Seq: ev.Seq, Field: "price", Key: subject.String(),
				Stored: ev.Price, Replayed: wantPrice,
			})
		}

		wantProtocol, wantSubject := fees.Split(wantPrice)
		if ev.ProtocolFee != wantProtocol {
			result.Divergences = append(result.Divergences, Divergence{
				Seq: ev.Seq, Field: "protocol_fee", Key: subject.String(),
				Stored: ev.ProtocolFee, Replayed: wantProtocol,
			})
		}
		if ev.SubjectFee != wantSubject {
			result.Divergences = append(result.Divergences, Divergence{
				Seq: ev.Seq, Field: "subject_fee", Key: subject.String(),
				Stored: ev.SubjectFee, Replayed: wantSubject,
			})
		}

		if ev.IsBuy {
			balances[ev.Trader] += ev.Amount
		} else {
			if balances[ev.Trader] < ev.Amount {
				result.Divergences = append(result.Divergences, Divergence{
					Seq: ev.Seq, Field: "balance", Key: ev.Trader.String(),
					Stored: ev.Amount, Replayed: balances[ev.Trader],
				})
				continue
			}
			balances[ev.Trader] -= ev.Amount
		}
		supply = wantSupply
	}

	// Replayed balances must sum to the final supply.
	var total uint64
	for _, bal := range balances {
		total += bal
	}
	if total != supply {
		result.Divergences = append(result.Divergences, Divergence{
			Field: "supply", Key: "conservation",
			Stored: supply, Replayed: total,
		})
	}

	if err := a.checkMirror(ctx, subject, balances, result); err != nil {
		return nil, err
	}

	if !result.OK() {
		a.logger.Printf("[audit] Subject %s: %d events, %d divergences", subject, result.EventsReplayed, len(result.Divergences))
	}
	return result, nil
}

// checkMirror compares replayed end balances with the holdings table.
func (a *Auditor) checkMirror(ctx context.Context, subject domain.Address, balances map[domain.Address]uint64, result *Result) error {
	rows, err := a.holdings.GetBySubject(ctx, subject)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load holdings for %s: %w", subject, err)
	}

	mirrored := make(map[domain.Address]uint64, len(rows))
	for _, h := range rows {
		mirrored[h.Trader] = h.ShareAmount
	}

	for trader, want := range balances {
		if got := mirrored[trader]; got != want {
			result.Divergences = append(result.Divergences, Divergence{
				Field: "holding", Key: trader.String(),
				Stored: got, Replayed: want,
			})
		}
		delete(mirrored, trader)
	}
	// Rows the replay never produced. Zero-balance rows are fine: a
	// position sold down to nothing legitimately stays in the table.
	for trader, got := range mirrored {
		if got != 0 {
			result.Divergences = append(result.Divergences, Divergence{
				Field: "holding", Key: trader.String(),
				Stored: got, Replayed: 0,
			})
		}
	}
	return nil
}
