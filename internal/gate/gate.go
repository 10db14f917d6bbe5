// Package gate guards the step from "winner selected" to "execution honored".
//
// Authorize admits an execution claim only if its nonce is unused, its
// timestamp is within clock-skew tolerance, it arrives inside the validity
// window opened when the winning quote was recorded, and the metadata checksum
// it echoes matches the one issued with the execution instruction. The nonce
// is consumed only when every check passes, so a denied claim can be retried
// with corrected metadata but never replayed once admitted.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bpolania/DeltaNEAR-sub000/internal/clock"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/nonce"
)

// Default tolerances.
const (
	DefaultClockSkew      = 30 * time.Second
	DefaultValidityWindow = 300 * time.Second
)

// DenialReason tags why a claim was denied.
type DenialReason string

const (
	ReasonReplayDetected    DenialReason = "ReplayDetected"
	ReasonClockSkewExceeded DenialReason = "ClockSkewExceeded"
	ReasonWindowExpired     DenialReason = "WindowExpired"
	ReasonChecksumMismatch  DenialReason = "ChecksumMismatch"
)

// Denial is returned when a claim fails a check.
type Denial struct {
	Reason  DenialReason
	Message string
}

// Error implements the error interface.
func (d *Denial) Error() string {
	return fmt.Sprintf("%s: %s", d.Reason, d.Message)
}

// IsDenial reports whether err is a Denial with the given reason.
// Uses errors.As to handle wrapped errors.
func IsDenial(err error, reason DenialReason) bool {
	var d *Denial
	if errors.As(err, &d) {
		return d.Reason == reason
	}
	return false
}

// Simulation is what was recorded when the winning quote was selected.
type Simulation struct {
	RecordedAt       time.Time
	MetadataChecksum string
}

// Claim is the authorization part of an execution result.
type Claim struct {
	SolverID         string
	Nonce            string
	Timestamp        time.Time
	MetadataChecksum string
}

// Gate is the execution authorization gate.
type Gate struct {
	ledger nonce.Ledger
	clock  clock.Clock
	logger *slog.Logger
	skew   time.Duration
	window time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the time source. Default: clock.Real.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithClockSkew sets the accepted distance between claim and gate clocks.
func WithClockSkew(d time.Duration) Option {
	return func(g *Gate) { g.skew = d }
}

// WithValidityWindow sets how long after the simulation a claim is honored.
func WithValidityWindow(d time.Duration) Option {
	return func(g *Gate) { g.window = d }
}

// New creates a gate over ledger.
func New(ledger nonce.Ledger, opts ...Option) *Gate {
	g := &Gate{
		ledger: ledger,
		clock:  clock.Real{},
		logger: slog.Default(),
		skew:   DefaultClockSkew,
		window: DefaultValidityWindow,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize returns nil to allow the claim, a *Denial to deny it, or another
// error if the ledger failed.
func (g *Gate) Authorize(ctx context.Context, hash intent.Hash, sim Simulation, claim Claim) error {
	key := nonce.Key(claim.SolverID, claim.Nonce)
	now := g.clock.Now()

	if claim.Nonce == "" {
		return g.deny(hash, claim, ReasonReplayDetected, "claim carries no nonce")
	}
	seen, err := g.ledger.Seen(ctx, key)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", hash, err)
	}
	if seen {
		return g.deny(hash, claim, ReasonReplayDetected, fmt.Sprintf("nonce %q already consumed", claim.Nonce))
	}

	if skew := now.Sub(claim.Timestamp).Abs(); skew > g.skew {
		return g.deny(hash, claim, ReasonClockSkewExceeded, fmt.Sprintf("claim timestamp is %s from gate clock (tolerance %s)", skew, g.skew))
	}

	if elapsed := now.Sub(sim.RecordedAt); elapsed > g.window {
		return g.deny(hash, claim, ReasonWindowExpired, fmt.Sprintf("claim arrived %s after simulation (window %s)", elapsed, g.window))
	}

	if claim.MetadataChecksum != sim.MetadataChecksum {
		return g.deny(hash, claim, ReasonChecksumMismatch, "metadata checksum does not match the issued execution")
	}

	ok, err := g.ledger.Consume(ctx, key, now)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", hash, err)
	}
	if !ok {
		return g.deny(hash, claim, ReasonReplayDetected, fmt.Sprintf("nonce %q consumed concurrently", claim.Nonce))
	}
	return nil
}

func (g *Gate) deny(hash intent.Hash, claim Claim, reason DenialReason, msg string) error {
	g.logger.Warn("execution claim denied",
		"intent_hash", hash.String(),
		"solver_id", claim.SolverID,
		"reason", string(reason),
	)
	return &Denial{Reason: reason, Message: msg}
}
