// Package settlement is the boundary to the external settlement service.
//
// The core only submits completed executions and records the eventual
// Confirmed or Rejected callback in a Tracker; auction records are never
// mutated by settlement outcomes.
package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/bpolania/DeltaNEAR-sub000/internal/canonjson"
	"github.com/bpolania/DeltaNEAR-sub000/internal/clock"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

// Outcome is the settlement state of a completed auction.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeRejected  Outcome = "rejected"
)

// ExecutionDetails describes the fill to settle.
type ExecutionDetails struct {
	IntentHash intent.Hash
	SolverID   string
	Venue      string
	Chain      string
	FillPrice  string
	Size       string
	FeesBps    int64
	// Fees is the protocol fee split, nil when no schedule is configured.
	Fees *Breakdown
}

// Result is the settlement callback payload.
type Result struct {
	Outcome   Outcome
	Reference string
	Reason    string
}

// Service submits executions for settlement. The callback is invoked once,
// possibly from another goroutine.
type Service interface {
	Submit(ctx context.Context, details ExecutionDetails, done func(Result)) error
}

// Status is the tracked settlement state of one intent.
type Status struct {
	Outcome     Outcome    `json:"outcome"`
	Reference   string     `json:"reference,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Fees        *Breakdown `json:"fees,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ResolvedAt  time.Time  `json:"resolved_at,omitzero"`
}

// Tracker records settlement state per intent hash.
type Tracker struct {
	mu     sync.RWMutex
	status map[intent.Hash]Status
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{status: make(map[intent.Hash]Status)}
}

// Begin marks hash pending. fees may be nil.
func (t *Tracker) Begin(hash intent.Hash, at time.Time, fees *Breakdown) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status[hash] = Status{Outcome: OutcomePending, Fees: fees, SubmittedAt: at}
}

// Resolve records the callback result. A resolved status is final; later
// callbacks for the same hash are ignored. tracked is false when hash is
// not in the tracker at all.
func (t *Tracker) Resolve(hash intent.Hash, r Result, at time.Time) (resolved, tracked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.status[hash]
	if !ok {
		return false, false
	}
	if s.Outcome != OutcomePending {
		return false, true
	}
	s.Outcome, s.Reference, s.Reason, s.ResolvedAt = r.Outcome, r.Reference, r.Reason, at
	t.status[hash] = s
	return true, true
}

// Get returns the status for hash.
func (t *Tracker) Get(hash intent.Hash) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.status[hash]
	return s, ok
}

// Retire hands the status of hash (nil when untracked) to archive and
// drops it once archive succeeds. The tracker stays locked throughout, so
// a concurrent Resolve lands either before archive sees the status or
// after hash is gone.
func (t *Tracker) Retire(hash intent.Hash, archive func(*Status) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var st *Status
	if s, ok := t.status[hash]; ok {
		st = &s
	}
	if err := archive(st); err != nil {
		return err
	}
	delete(t.status, hash)
	return nil
}

// DomainReference separates loopback settlement references.
const DomainReference = "deltanear/settlement/v1"

// Loopback is an in-process Service that confirms every execution after
// Delay on its clock, unless Reject returns a non-empty reason.
type Loopback struct {
	Clock  clock.Clock
	Delay  time.Duration
	Reject func(ExecutionDetails) string
}

func (l *Loopback) Submit(_ context.Context, d ExecutionDetails, done func(Result)) error {
	clk := l.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	clk.AfterFunc(l.Delay, func() {
		if l.Reject != nil {
			if reason := l.Reject(d); reason != "" {
				done(Result{Outcome: OutcomeRejected, Reason: reason})
				return
			}
		}
		ref := canonjson.HashWithDomain(DomainReference, d.IntentHash[:])
		done(Result{Outcome: OutcomeConfirmed, Reference: ref})
	})
	return nil
}
