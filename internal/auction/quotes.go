package auction

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bpolania/DeltaNEAR-sub000/internal/events"
	"github.com/bpolania/DeltaNEAR-sub000/internal/gate"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/protocol"
)

// SubmitQuote records a quote from solverID. The solver must hold an
// outstanding request for the intent or have quoted it already in this
// window; a repeat quote replaces the earlier one and takes a new arrival
// position.
func (c *Coordinator) SubmitQuote(ctx context.Context, solverID string, q protocol.Quote) error {
	a, err := c.locked(q.IntentHash)
	if err != nil {
		return err
	}
	defer a.mu.Unlock()

	if a.status != StatusQuoting {
		return solverError(CodeQuoteWindowClosed, a.hash, solverID, "auction is %s", a.status)
	}
	_, requoting := a.quotes[solverID]
	if !requoting && !c.solvers.HasPending(solverID, a.hash) {
		return solverError(CodeUnknownRequest, a.hash, solverID, "no outstanding quote request")
	}

	quote, err := c.validateQuote(a, solverID, q)
	if err != nil {
		return err
	}
	c.solvers.TakePending(solverID, a.hash)
	a.quotes[solverID] = &quote

	c.logger.Debug("quote recorded",
		"intent_hash", a.hash.String(),
		"solver_id", solverID,
		"price", quote.Price.String(),
		"cost_bps", quote.CostBps(),
		"seq", quote.Seq,
	)
	return nil
}

func (c *Coordinator) validateQuote(a *auction, solverID string, q protocol.Quote) (Quote, error) {
	invalid := func(format string, args ...any) (Quote, error) {
		return Quote{}, solverError(CodeInvalidQuote, a.hash, solverID, format, args...)
	}

	price, err := decimal.NewFromString(q.Price)
	if err != nil || !price.IsPositive() {
		return invalid("price %q is not a positive decimal", q.Price)
	}
	size, err := decimal.NewFromString(q.Size)
	if err != nil {
		return invalid("size %q is not a decimal", q.Size)
	}
	want, _ := decimal.NewFromString(a.intent.Derivatives.Size)
	if !size.Equal(want) {
		return invalid("size %s does not match intent size %s", size, want)
	}
	if q.FeeBps < 0 || q.FundingBps8h < 0 || q.SlippageBps < 0 {
		return invalid("bps fields must not be negative")
	}

	venue := strings.ToLower(strings.TrimSpace(q.Venue))
	solver, ok := c.solvers.Get(solverID)
	if !ok {
		return invalid("solver is not registered")
	}
	if !slices.Contains(solver.SupportedVenues, venue) {
		return invalid("venue %q is not supported by the solver", venue)
	}
	if allow := a.intent.Derivatives.Constraints.VenueAllowlist; len(allow) > 0 && !slices.Contains(allow, venue) {
		return invalid("venue %q is not in the intent allowlist", venue)
	}

	chain := strings.ToLower(strings.TrimSpace(q.Chain))
	if chain == "" {
		return invalid("chain is required")
	}
	if !slices.Contains(intent.Chains, chain) {
		return invalid("chain %q is not supported", q.Chain)
	}

	var venueFee int64
	if c.catalog != nil {
		if !c.catalog.VenueSupports(venue, a.intent.Derivatives.Instrument) {
			return invalid("venue %q is not listed for %s", venue, a.intent.Derivatives.Instrument)
		}
		listed, _ := c.catalog.Venue(venue)
		if listed.Chain != chain {
			return invalid("venue %q executes on %s, not %s", venue, listed.Chain, chain)
		}
		venueFee = listed.FeeBps
	}

	now := c.clock.Now()
	expiry, err := time.Parse(time.RFC3339, q.Expiry)
	if err != nil {
		return invalid("expiry %q is not RFC 3339", q.Expiry)
	}
	if !expiry.After(now) {
		return invalid("quote expired at %s", formatTime(expiry))
	}

	return Quote{
		SolverID:     solverID,
		Price:        price,
		Size:         size,
		FeeBps:       q.FeeBps,
		VenueFeeBps:  venueFee,
		FundingBps8h: q.FundingBps8h,
		SlippageBps:  q.SlippageBps,
		Venue:        venue,
		Chain:        chain,
		Expiry:       expiry.UTC(),
		ReceivedAt:   now,
		Seq:          c.seq.Next(),
	}, nil
}

// closeQuotes runs selection when the quote window timer fires.
func (c *Coordinator) closeQuotes(hash intent.Hash) {
	a, err := c.locked(hash)
	if err != nil {
		return
	}
	var fx effects
	c.selectLocked(a, &fx)
	a.mu.Unlock()
	c.apply(context.Background(), &fx)
}

// selectLocked is guarded by the Quoting status so it runs at most once.
func (c *Coordinator) selectLocked(a *auction, fx *effects) {
	if a.status != StatusQuoting {
		return
	}
	a.stopTimerLocked()
	now := c.clock.Now()

	winner, ok, excluded := selectWinner(sortedQuotes(a.quotes), a.intent, now)
	for _, ex := range excluded {
		c.logger.Info("quote excluded", "intent_hash", a.hash.String(), "solver_id", ex.SolverID, "reason", ex.Reason)
	}
	if !ok {
		c.failLocked(a, newError(CodeNoValidQuotes, a.hash, "%d quotes received, none valid", len(a.quotes)), fx)
		return
	}
	c.solvers.ClearPending(a.hash, a.contacted)

	a.winner = &winner
	a.status = StatusSelecting
	a.exclusivityUntil = now.Add(c.exclusivity)
	a.sim = gate.Simulation{
		RecordedAt: winner.ReceivedAt,
		MetadataChecksum: gate.Metadata{
			IntentHash: a.hash,
			SolverID:   winner.SolverID,
			Venue:      winner.Venue,
			Chain:      winner.Chain,
			Price:      winner.Price.String(),
			Size:       winner.Size.String(),
			FeeBps:     winner.FeeBps,
		}.Checksum(),
	}
	hash := a.hash
	a.timer = c.clock.AfterFunc(c.exclusivity, func() { c.expireExclusivity(hash) })

	c.logger.Info("solver assigned",
		"intent_hash", a.hash.String(),
		"solver_id", winner.SolverID,
		"venue", winner.Venue,
		"price", winner.Price.String(),
		"exclusivity_until", a.exclusivityUntil,
	)
	fx.send(winner.SolverID, protocol.Award{
		IntentHash:       a.hash,
		Venue:            winner.Venue,
		Price:            winner.Price.String(),
		ExclusivityUntil: formatTime(a.exclusivityUntil),
	})
	fx.emit(events.SolverAssigned, events.SolverAssignedData{
		IntentHash:       a.hash.String(),
		SolverID:         winner.SolverID,
		Venue:            winner.Venue,
		Price:            winner.Price.String(),
		ExclusivityUntil: formatTime(a.exclusivityUntil),
		TimestampNs:      now.UnixNano(),
	})
	fx.emit(events.SimulationCompleted, events.SimulationCompletedData{
		IntentHash:     a.hash.String(),
		SimulationHash: a.sim.MetadataChecksum,
		Success:        true,
		TimestampNs:    now.UnixNano(),
	})
}

// expireExclusivity fails an auction whose winner did not complete in time.
func (c *Coordinator) expireExclusivity(hash intent.Hash) {
	a, err := c.locked(hash)
	if err != nil {
		return
	}
	var fx effects
	if a.status.awarded() && !c.clock.Now().Before(a.exclusivityUntil) {
		a.timer = nil
		c.failLocked(a, solverError(CodeExclusivityExpired, a.hash, a.winner.SolverID, "exclusivity window ended at %s", formatTime(a.exclusivityUntil)), &fx)
	}
	a.mu.Unlock()
	c.apply(context.Background(), &fx)
}
