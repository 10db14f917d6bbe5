package auction

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/bpolania/DeltaNEAR-sub000/internal/clock"
	"github.com/bpolania/DeltaNEAR-sub000/internal/gate"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/settlement"
	"github.com/bpolania/DeltaNEAR-sub000/internal/store"
)

// auction is the mutable per-intent record. Every field is guarded by mu.
type auction struct {
	mu sync.Mutex

	hash      intent.Hash
	intent    *intent.Intent
	canonical []byte
	status    Status
	createdAt time.Time

	contacted []string
	quotes    map[string]*Quote

	winner           *Quote
	exclusivityUntil time.Time
	sim              gate.Simulation
	signature        []byte
	reservation      *gate.Reservation

	fillPrice  string
	feesBps    *int64
	failure    *Error
	finishedAt time.Time

	timer   clock.Timer
	removed bool
}

// Snapshot is a read-only copy of an auction.
type Snapshot struct {
	Hash             intent.Hash
	Intent           *intent.Intent
	Canonical        []byte
	Status           Status
	SolversContacted []string
	// Quotes are in arrival order.
	Quotes           []Quote
	Winner           *Quote
	ExclusivityUntil time.Time
	FillPrice        string
	FeesBps          *int64
	Failure          *Error
	CreatedAt        time.Time
	FinishedAt       time.Time
}

// WinningSolver returns the winner's id, or "" before selection.
func (s Snapshot) WinningSolver() string {
	if s.Winner == nil {
		return ""
	}
	return s.Winner.SolverID
}

func (a *auction) snapshot() Snapshot {
	s := Snapshot{
		Hash:             a.hash,
		Intent:           a.intent,
		Canonical:        a.canonical,
		Status:           a.status,
		SolversContacted: slices.Clone(a.contacted),
		Quotes:           sortedQuotes(a.quotes),
		ExclusivityUntil: a.exclusivityUntil,
		FillPrice:        a.fillPrice,
		CreatedAt:        a.createdAt,
		FinishedAt:       a.finishedAt,
	}
	if a.winner != nil {
		w := *a.winner
		s.Winner = &w
	}
	if a.feesBps != nil {
		f := *a.feesBps
		s.FeesBps = &f
	}
	if a.failure != nil {
		f := *a.failure
		s.Failure = &f
	}
	return s
}

// Record converts a terminal snapshot into its archive form, folding in the
// settlement state when one is known.
func (s Snapshot) Record(st *settlement.Status) store.AuctionRecord {
	rec := store.AuctionRecord{
		Hash:             s.Hash,
		CanonicalIntent:  s.Canonical,
		Status:           string(s.Status),
		FillPrice:        s.FillPrice,
		FeesBps:          s.FeesBps,
		ExclusivityUntil: s.ExclusivityUntil,
		CreatedAt:        s.CreatedAt,
		FinishedAt:       s.FinishedAt,
		Quotes:           make([]store.QuoteRecord, 0, len(s.Quotes)),
	}
	if s.Winner != nil {
		rec.WinningSolver = s.Winner.SolverID
		rec.Venue = s.Winner.Venue
	}
	if s.Failure != nil {
		rec.ErrorCode = string(s.Failure.Code)
		rec.ErrorMessage = s.Failure.Message
	}
	if st != nil {
		rec.SettlementOutcome = string(st.Outcome)
		rec.SettlementReference = st.Reference
		if st.Fees != nil {
			// Breakdown holds only strings.
			rec.SettlementFees, _ = json.Marshal(st.Fees)
		}
	}
	for _, q := range s.Quotes {
		rec.Quotes = append(rec.Quotes, store.QuoteRecord{
			SolverID:     q.SolverID,
			Seq:          q.Seq,
			Price:        q.Price.String(),
			Size:         q.Size.String(),
			FeeBps:       q.FeeBps,
			FundingBps8h: q.FundingBps8h,
			SlippageBps:  q.SlippageBps,
			Venue:        q.Venue,
			Chain:        q.Chain,
			Expiry:       q.Expiry,
			ReceivedAt:   q.ReceivedAt,
		})
	}
	return rec
}
