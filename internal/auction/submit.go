package auction

import (
	"context"
	"fmt"

	"github.com/bpolania/DeltaNEAR-sub000/internal/events"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/protocol"
)

// SubmitResult is returned by Submit.
type SubmitResult struct {
	IntentHash intent.Hash
	Status     Status
}

// Submit canonicalizes raw, derives its hash and opens a pending auction.
// Canonicalization failures are returned as *intent.Rejection.
func (c *Coordinator) Submit(ctx context.Context, raw []byte) (SubmitResult, error) {
	can, err := intent.Normalize(raw)
	if err != nil {
		return SubmitResult{}, err
	}
	return c.SubmitCanonical(ctx, can)
}

// SubmitCanonical opens a pending auction for an already canonical intent.
func (c *Coordinator) SubmitCanonical(ctx context.Context, can *intent.Canonical) (SubmitResult, error) {
	hash := can.Hash

	if c.catalog != nil {
		if err := c.catalog.Check(can.Intent); err != nil {
			return SubmitResult{}, &Error{Code: CodeGuardrailViolation, Hash: hash, Message: err.Error(), Err: err}
		}
	}

	if c.lookup(hash) != nil {
		return SubmitResult{}, newError(CodeDuplicateIntent, hash, "intent already submitted")
	}
	if c.archive != nil {
		archived, err := c.archive.HasAuction(ctx, hash)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("submit %s: %w", hash, err)
		}
		if archived {
			return SubmitResult{}, newError(CodeDuplicateIntent, hash, "intent already submitted")
		}
	}

	if c.catalog != nil {
		g := c.catalog.GuardrailFor(can.Intent.SignerID, can.Intent.Derivatives.Symbol)
		if err := c.throttle.Admit(can.Intent.SignerID, g.Cooldown); err != nil {
			return SubmitResult{}, &Error{Code: CodeGuardrailViolation, Hash: hash, Message: err.Error(), Err: err}
		}
	}

	now := c.clock.Now()
	a := &auction{
		hash:      hash,
		intent:    can.Intent,
		canonical: can.Bytes,
		status:    StatusPending,
		createdAt: now,
		quotes:    make(map[string]*Quote),
	}

	s := c.shardFor(hash)
	s.mu.Lock()
	if _, exists := s.auctions[hash]; exists {
		s.mu.Unlock()
		return SubmitResult{}, newError(CodeDuplicateIntent, hash, "intent already submitted")
	}
	s.auctions[hash] = a
	s.mu.Unlock()

	d := can.Intent.Derivatives
	c.logger.Info("intent submitted", "intent_hash", hash.String(), "symbol", d.Symbol, "side", string(d.Side), "size", d.Size)
	c.publisher.Publish(events.New(events.IntentSubmitted, events.IntentSubmittedData{
		IntentHash:  hash.String(),
		SignerID:    can.Intent.SignerID,
		Instrument:  string(d.Instrument),
		Symbol:      d.Symbol,
		Side:        string(d.Side),
		Size:        d.Size,
		TimestampNs: now.UnixNano(),
	}))
	return SubmitResult{IntentHash: hash, Status: StatusPending}, nil
}

// RequestResult is returned by RequestQuotes.
type RequestResult struct {
	Status           Status
	SolversContacted []string
}

// RequestQuotes fans a quote request out to every eligible solver and opens
// the quote window. With no eligible solver the auction fails with
// NoSolversAvailable, which is also returned.
func (c *Coordinator) RequestQuotes(ctx context.Context, hash intent.Hash) (RequestResult, error) {
	a, err := c.locked(hash)
	if err != nil {
		return RequestResult{}, err
	}

	var fx effects
	result, err := c.requestQuotesLocked(a, &fx)
	a.mu.Unlock()

	c.apply(ctx, &fx)
	return result, err
}

func (c *Coordinator) requestQuotesLocked(a *auction, fx *effects) (RequestResult, error) {
	if a.status != StatusPending {
		return RequestResult{Status: a.status}, newError(CodeInvalidStateTransition, a.hash, "quotes can only be requested while pending, status is %s", a.status)
	}

	var venueOK func(string) bool
	if c.catalog != nil {
		instrument := a.intent.Derivatives.Instrument
		venueOK = func(v string) bool { return c.catalog.VenueSupports(v, instrument) }
	}

	eligible := c.solvers.EligibleFor(a.intent, venueOK)
	var contacted []string
	for _, id := range eligible {
		if err := c.solvers.AddPending(id, a.hash); err != nil {
			continue
		}
		contacted = append(contacted, id)
	}
	if len(contacted) == 0 {
		failure := newError(CodeNoSolversAvailable, a.hash, "no eligible solvers")
		c.failLocked(a, failure, fx)
		return RequestResult{Status: a.status, SolversContacted: []string{}}, failure
	}

	now := c.clock.Now()
	deadline := now.Add(c.quoteWindow)
	a.contacted = contacted
	a.status = StatusQuoting
	hash := a.hash
	a.timer = c.clock.AfterFunc(c.quoteWindow, func() { c.closeQuotes(hash) })

	for _, id := range contacted {
		fx.send(id, protocol.QuoteRequest{
			RequestID:  c.requestID(),
			IntentHash: a.hash,
			Intent:     a.canonical,
			Deadline:   formatTime(deadline),
		})
	}
	fx.emit(events.QuotesRequested, events.QuotesRequestedData{
		IntentHash:  a.hash.String(),
		Solvers:     contacted,
		Deadline:    formatTime(deadline),
		TimestampNs: now.UnixNano(),
	})
	c.logger.Info("quotes requested", "intent_hash", a.hash.String(), "solvers", contacted, "deadline", deadline)

	return RequestResult{Status: StatusQuoting, SolversContacted: contacted}, nil
}
