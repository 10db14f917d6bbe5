package auction

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bpolania/DeltaNEAR-sub000/internal/events"
	"github.com/bpolania/DeltaNEAR-sub000/internal/gate"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/protocol"
	"github.com/bpolania/DeltaNEAR-sub000/internal/settlement"
	"github.com/bpolania/DeltaNEAR-sub000/internal/signer"
	"github.com/bpolania/DeltaNEAR-sub000/internal/store"
)

// AcceptRequest is the signer's acceptance of the selected quote.
type AcceptRequest struct {
	IntentHash intent.Hash
	SignerID   string
	Signature  []byte
}

// AcceptResult is returned by Accept.
type AcceptResult struct {
	IntentHash       intent.Hash
	Status           Status
	WinningSolver    string
	ExclusivityUntil time.Time
}

// Accept binds the signed acceptance to the selected quote and forwards the
// execution instruction to the winner only.
func (c *Coordinator) Accept(ctx context.Context, req AcceptRequest) (AcceptResult, error) {
	a, err := c.locked(req.IntentHash)
	if err != nil {
		return AcceptResult{}, err
	}

	if a.status != StatusSelecting {
		defer a.mu.Unlock()
		return AcceptResult{IntentHash: a.hash, Status: a.status}, newError(CodeInvalidStateTransition, a.hash, "acceptance requires a selected winner, status is %s", a.status)
	}
	signerID := strings.ToLower(strings.TrimSpace(req.SignerID))
	if signerID != a.intent.SignerID {
		a.mu.Unlock()
		return AcceptResult{}, newError(CodeUnauthorized, a.hash, "signer %q did not sign this intent", req.SignerID)
	}
	if err := c.verifier.Verify(signer.Acceptance{IntentHash: a.hash, SignerID: signerID, Signature: req.Signature}); err != nil {
		a.mu.Unlock()
		return AcceptResult{}, &Error{Code: CodeSignatureInvalid, Hash: a.hash, Message: err.Error(), Err: err}
	}
	if !c.clock.Now().Before(a.exclusivityUntil) {
		a.mu.Unlock()
		return AcceptResult{}, newError(CodeExclusivityExpired, a.hash, "exclusivity window ended at %s", formatTime(a.exclusivityUntil))
	}
	if c.catalog != nil {
		g := c.catalog.GuardrailFor(signerID, a.intent.Derivatives.Symbol)
		if !g.MaxDailyVolume.IsZero() {
			r, err := c.throttle.Reserve(signerID, a.winner.Price.Mul(a.winner.Size), g.MaxDailyVolume)
			if err != nil {
				a.mu.Unlock()
				return AcceptResult{}, &Error{Code: CodeGuardrailViolation, Hash: a.hash, Message: err.Error(), Err: err}
			}
			a.reservation = &r
		}
	}

	a.status = StatusAccepted
	a.signature = req.Signature
	w := *a.winner
	msg := protocol.Execute{
		IntentHash:       a.hash,
		Intent:           a.canonical,
		Venue:            w.Venue,
		Chain:            w.Chain,
		Price:            w.Price.String(),
		Size:             w.Size.String(),
		MetadataChecksum: a.sim.MetadataChecksum,
		Signature:        hex.EncodeToString(req.Signature),
		ExclusivityUntil: formatTime(a.exclusivityUntil),
	}
	until := a.exclusivityUntil
	a.mu.Unlock()

	c.logger.Info("acceptance bound", "intent_hash", req.IntentHash.String(), "solver_id", w.SolverID)
	sendErr := c.solvers.Send(ctx, w.SolverID, msg)

	a.mu.Lock()
	var fx effects
	if a.status == StatusAccepted {
		if sendErr != nil {
			c.failLocked(a, &Error{Code: CodeWinnerDisconnected, SolverID: w.SolverID, Message: sendErr.Error()}, &fx)
		} else {
			a.status = StatusExecuting
		}
	}
	status := a.status
	var failure *Error
	if status == StatusFailed && a.failure != nil {
		f := *a.failure
		failure = &f
	}
	a.mu.Unlock()
	c.apply(ctx, &fx)

	result := AcceptResult{IntentHash: req.IntentHash, Status: status, WinningSolver: w.SolverID, ExclusivityUntil: until}
	if failure != nil {
		return result, failure
	}
	return result, nil
}

// ReportExecution handles an execution result from solverID. Only the
// winner's claim is considered, and only once the gate admits it. A gate
// denial is returned as *gate.Denial and leaves the auction executing.
func (c *Coordinator) ReportExecution(ctx context.Context, solverID string, res protocol.ExecutionResult) error {
	a, err := c.locked(res.IntentHash)
	if err != nil {
		return err
	}

	var fx effects
	err = c.reportLocked(ctx, a, solverID, res, &fx)
	a.mu.Unlock()

	c.apply(ctx, &fx)
	return err
}

func (c *Coordinator) reportLocked(ctx context.Context, a *auction, solverID string, res protocol.ExecutionResult, fx *effects) error {
	if a.winner == nil {
		return solverError(CodeInvalidStateTransition, a.hash, solverID, "no winner selected, status is %s", a.status)
	}
	if solverID != a.winner.SolverID {
		return solverError(CodeNotWinner, a.hash, solverID, "execution is reserved for %s", a.winner.SolverID)
	}
	if a.status != StatusExecuting {
		return solverError(CodeInvalidStateTransition, a.hash, solverID, "execution results are accepted while executing, status is %s", a.status)
	}
	// The expiry timer may not have fired yet.
	if !c.clock.Now().Before(a.exclusivityUntil) {
		expired := solverError(CodeExclusivityExpired, a.hash, solverID, "exclusivity window ended at %s", formatTime(a.exclusivityUntil))
		c.failLocked(a, expired, fx)
		return expired
	}

	var fill decimal.Decimal
	switch res.Status {
	case protocol.ExecutionSuccess:
		var err error
		fill, err = decimal.NewFromString(res.FillPrice)
		if err != nil || !fill.IsPositive() {
			return solverError(CodeInvalidExecutionResult, a.hash, solverID, "fill_price %q is not a positive decimal", res.FillPrice)
		}
		if res.FeesBps != nil && *res.FeesBps < 0 {
			return solverError(CodeInvalidExecutionResult, a.hash, solverID, "fees_bps must not be negative")
		}
	case protocol.ExecutionFailed:
	default:
		return solverError(CodeInvalidExecutionResult, a.hash, solverID, "unknown execution status %q", res.Status)
	}

	// An unparseable timestamp stays zero and fails the skew check.
	ts, _ := time.Parse(time.RFC3339, res.Timestamp)
	claim := gate.Claim{
		SolverID:         solverID,
		Nonce:            res.Nonce,
		Timestamp:        ts,
		MetadataChecksum: res.MetadataChecksum,
	}
	if err := c.gate.Authorize(ctx, a.hash, a.sim, claim); err != nil {
		return err
	}

	w := a.winner
	logged := events.ExecutionLoggedData{
		IntentHash: a.hash.String(),
		SolverID:   w.SolverID,
		Venue:      w.Venue,
		Status:     res.Status,
	}

	if res.Status == protocol.ExecutionFailed {
		msg := res.Error
		if msg == "" {
			msg = "solver reported failure"
		}
		c.failLocked(a, &Error{Code: CodeExecutionFailed, SolverID: solverID, Message: msg}, fx)
		logged.TimestampNs = a.finishedAt.UnixNano()
		fx.emit(events.ExecutionLogged, logged)
		return nil
	}

	fees := w.TotalFeeBps()
	if res.FeesBps != nil {
		fees = *res.FeesBps
	}
	a.fillPrice = fill.String()
	a.feesBps = &fees
	c.finishLocked(a, StatusCompleted)

	logged.FillPrice = a.fillPrice
	logged.Notional = fill.Mul(w.Size).String()
	logged.TimestampNs = a.finishedAt.UnixNano()
	fx.emit(events.ExecutionLogged, logged)
	c.logger.Info("execution completed", "intent_hash", a.hash.String(), "solver_id", solverID, "fill_price", a.fillPrice, "fees_bps", fees)

	if c.settlement != nil {
		fx.settle = &settlement.ExecutionDetails{
			IntentHash: a.hash,
			SolverID:   w.SolverID,
			Venue:      w.Venue,
			Chain:      w.Chain,
			FillPrice:  a.fillPrice,
			Size:       w.Size.String(),
			FeesBps:    fees,
		}
		if c.fees != nil {
			split := c.fees.Apply(fill.Mul(w.Size))
			fx.settle.Fees = &split
		}
	}
	return nil
}

// SolverDisconnected fails every auction whose selected winner is id and
// has not yet been given the execution instruction. Auctions it merely
// quoted on are unaffected.
func (c *Coordinator) SolverDisconnected(id string) []intent.Hash {
	var candidates []*auction
	for _, s := range c.shards {
		s.mu.RLock()
		for _, a := range s.auctions {
			candidates = append(candidates, a)
		}
		s.mu.RUnlock()
	}

	var failed []intent.Hash
	for _, a := range candidates {
		var fx effects
		a.mu.Lock()
		if !a.removed && a.winner != nil && a.winner.SolverID == id &&
			(a.status == StatusSelecting || a.status == StatusAccepted) {
			c.failLocked(a, &Error{Code: CodeWinnerDisconnected, SolverID: id, Message: "winner disconnected before execution"}, &fx)
			failed = append(failed, a.hash)
		}
		a.mu.Unlock()
		c.apply(context.Background(), &fx)
	}
	return failed
}

func (c *Coordinator) submitSettlement(ctx context.Context, d settlement.ExecutionDetails) {
	now := c.clock.Now()
	c.tracker.Begin(d.IntentHash, now, d.Fees)
	data := events.SettlementInitiatedData{
		IntentHash:  d.IntentHash.String(),
		SolverID:    d.SolverID,
		TimestampNs: now.UnixNano(),
	}
	if d.Fees != nil {
		data.ProtocolFee = d.Fees.ProtocolFee
		data.SolverRebate = d.Fees.SolverRebate
		data.Treasury = d.Fees.Treasury
	}
	c.publisher.Publish(events.New(events.SettlementInitiated, data))

	err := c.settlement.Submit(context.WithoutCancel(ctx), d, func(r settlement.Result) {
		c.settled(d.IntentHash, r)
	})
	if err != nil {
		c.logger.Error("settlement submit failed", "intent_hash", d.IntentHash.String(), "error", err)
		c.settled(d.IntentHash, settlement.Result{Outcome: settlement.OutcomeRejected, Reason: err.Error()})
	}
}

// settled records a settlement callback. Callbacks that arrive after the
// auction was archived update the archive instead.
func (c *Coordinator) settled(hash intent.Hash, r settlement.Result) {
	now := c.clock.Now()
	resolved, tracked := c.tracker.Resolve(hash, r, now)
	if tracked && !resolved {
		return
	}
	if !tracked {
		if c.archive == nil {
			return
		}
		err := c.archive.UpdateSettlement(context.Background(), hash, string(r.Outcome), r.Reference)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			c.logger.Error("archive settlement update failed", "intent_hash", hash.String(), "error", err)
		}
	}
	c.logger.Info("settlement resolved", "intent_hash", hash.String(), "outcome", string(r.Outcome))
	c.publisher.Publish(events.New(events.SettlementCompleted, events.SettlementCompletedData{
		IntentHash:  hash.String(),
		Outcome:     string(r.Outcome),
		Reference:   r.Reference,
		Reason:      r.Reason,
		TimestampNs: now.UnixNano(),
	}))
}

// expire archives a terminal auction and drops it from memory. A failed
// archive write keeps the auction live and retries after another
// retention period.
func (c *Coordinator) expire(hash intent.Hash) {
	a, err := c.locked(hash)
	if err != nil {
		return
	}
	if !a.status.Terminal() {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	snap := a.snapshot()
	a.mu.Unlock()

	// Settlement callbacks wait on Retire, so the archived row carries
	// every outcome resolved before it and later ones update the row.
	err = c.tracker.Retire(hash, func(st *settlement.Status) error {
		if c.archive != nil {
			if err := c.archive.ArchiveAuction(context.Background(), snap.Record(st)); err != nil {
				return err
			}
		}
		s := c.shardFor(hash)
		s.mu.Lock()
		delete(s.auctions, hash)
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		c.logger.Error("archive failed, retrying", "intent_hash", hash.String(), "error", err)
		a.mu.Lock()
		if !a.removed {
			a.timer = c.clock.AfterFunc(c.retention, func() { c.expire(hash) })
		}
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	a.removed = true
	a.mu.Unlock()
	c.logger.Debug("auction retired", "intent_hash", hash.String(), "archived", c.archive != nil)
}
