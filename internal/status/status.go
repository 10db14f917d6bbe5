// Package status projects read-only receipts for intents, from the live
// auction table first and from the archive once an auction has been
// retired.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bpolania/DeltaNEAR-sub000/internal/auction"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/settlement"
	"github.com/bpolania/DeltaNEAR-sub000/internal/store"
)

// Live is the coordinator view the projector reads.
type Live interface {
	Snapshot(hash intent.Hash) (auction.Snapshot, bool)
	Tracker() *settlement.Tracker
}

// Archive is the retired-auction view the projector reads.
type Archive interface {
	GetAuction(ctx context.Context, hash intent.Hash) (*store.AuctionRecord, error)
}

// ErrorInfo is the failure recorded on a failed auction.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Receipt is the externally visible state of one intent.
type Receipt struct {
	IntentHash       string             `json:"intent_hash"`
	Status           string             `json:"status"`
	WinningSolver    string             `json:"winning_solver,omitempty"`
	Venue            string             `json:"venue,omitempty"`
	FillPrice        string             `json:"fill_price,omitempty"`
	FeesBps          *int64             `json:"fees_bps,omitempty"`
	Error            *ErrorInfo         `json:"error,omitempty"`
	ExclusivityUntil string             `json:"exclusivity_until,omitempty"`
	Settlement       *settlement.Status `json:"settlement,omitempty"`
	Archived         bool               `json:"archived"`
}

// Projector builds receipts. Either source may be nil.
type Projector struct {
	live    Live
	archive Archive
}

// New creates a projector over the live coordinator and the archive.
func New(live Live, archive Archive) *Projector {
	return &Projector{live: live, archive: archive}
}

// Project returns the receipt for hash. An unknown hash is an
// auction.Error with code NotFound.
func (p *Projector) Project(ctx context.Context, hash intent.Hash) (Receipt, error) {
	if p.live != nil {
		if snap, ok := p.live.Snapshot(hash); ok {
			r := fromSnapshot(snap)
			if st, ok := p.live.Tracker().Get(hash); ok {
				r.Settlement = &st
			}
			return r, nil
		}
	}

	if p.archive != nil {
		rec, err := p.archive.GetAuction(ctx, hash)
		switch {
		case err == nil:
			return fromRecord(rec), nil
		case !errors.Is(err, store.ErrNotFound):
			return Receipt{}, err
		}
	}
	return Receipt{}, &auction.Error{Code: auction.CodeNotFound, Hash: hash, Message: "intent is not known"}
}

func fromSnapshot(s auction.Snapshot) Receipt {
	r := Receipt{
		IntentHash:       s.Hash.String(),
		Status:           string(s.Status),
		WinningSolver:    s.WinningSolver(),
		FillPrice:        s.FillPrice,
		FeesBps:          s.FeesBps,
		ExclusivityUntil: formatTime(s.ExclusivityUntil),
	}
	if s.Winner != nil {
		r.Venue = s.Winner.Venue
	}
	if s.Failure != nil {
		r.Error = &ErrorInfo{Code: string(s.Failure.Code), Message: s.Failure.Message}
	}
	return r
}

func fromRecord(rec *store.AuctionRecord) Receipt {
	r := Receipt{
		IntentHash:       rec.Hash.String(),
		Status:           rec.Status,
		WinningSolver:    rec.WinningSolver,
		Venue:            rec.Venue,
		FillPrice:        rec.FillPrice,
		FeesBps:          rec.FeesBps,
		ExclusivityUntil: formatTime(rec.ExclusivityUntil),
		Archived:         true,
	}
	if rec.ErrorCode != "" {
		r.Error = &ErrorInfo{Code: rec.ErrorCode, Message: rec.ErrorMessage}
	}
	if rec.SettlementOutcome != "" {
		r.Settlement = &settlement.Status{
			Outcome:   settlement.Outcome(rec.SettlementOutcome),
			Reference: rec.SettlementReference,
		}
		var fees settlement.Breakdown
		if len(rec.SettlementFees) > 0 && json.Unmarshal(rec.SettlementFees, &fees) == nil {
			r.Settlement.Fees = &fees
		}
	}
	return r
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
