package gate

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bpolania/DeltaNEAR-sub000/internal/clock"
)

// Throttle denial reasons.
const (
	ReasonCooldownActive      DenialReason = "CooldownActive"
	ReasonDailyVolumeExceeded DenialReason = "DailyVolumeExceeded"
)

const dayLayout = "2006-01-02"

// Throttle enforces per-signer submission cooldowns and a daily notional
// budget. Days are UTC calendar days.
type Throttle struct {
	mu      sync.Mutex
	clock   clock.Clock
	signers map[string]*usage
}

type usage struct {
	lastSubmit time.Time
	day        string
	volume     decimal.Decimal
}

// Reservation is notional held against a signer's daily budget.
type Reservation struct {
	SignerID string
	Day      string
	Notional decimal.Decimal
}

// NewThrottle creates an empty throttle reading time from c.
func NewThrottle(c clock.Clock) *Throttle {
	return &Throttle{clock: c, signers: make(map[string]*usage)}
}

func (t *Throttle) usageLocked(signerID string, now time.Time) *usage {
	u, ok := t.signers[signerID]
	if !ok {
		u = &usage{}
		t.signers[signerID] = u
	}
	if day := now.UTC().Format(dayLayout); u.day != day {
		u.day = day
		u.volume = decimal.Zero
	}
	return u
}

// Admit records a submission by signerID, or denies it when the previous
// one was less than cooldown ago. A zero cooldown admits everything.
func (t *Throttle) Admit(signerID string, cooldown time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	u := t.usageLocked(signerID, now)
	if cooldown > 0 && !u.lastSubmit.IsZero() {
		if wait := u.lastSubmit.Add(cooldown).Sub(now); wait > 0 {
			return &Denial{Reason: ReasonCooldownActive, Message: fmt.Sprintf("%s may submit again in %s", signerID, wait)}
		}
	}
	u.lastSubmit = now
	return nil
}

// Reserve holds notional against signerID's budget for today, or denies it
// when the total would exceed limit.
func (t *Throttle) Reserve(signerID string, notional, limit decimal.Decimal) (Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u := t.usageLocked(signerID, t.clock.Now())
	total := u.volume.Add(notional)
	if total.GreaterThan(limit) {
		return Reservation{}, &Denial{
			Reason:  ReasonDailyVolumeExceeded,
			Message: fmt.Sprintf("notional %s would bring %s to %s, over the daily cap %s", notional, signerID, total, limit),
		}
	}
	u.volume = total
	return Reservation{SignerID: signerID, Day: u.day, Notional: notional}, nil
}

// Release returns a reservation to the budget. Reservations from an
// earlier day are dropped.
func (t *Throttle) Release(r Reservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.signers[r.SignerID]
	if !ok || u.day != r.Day {
		return
	}
	u.volume = decimal.Max(decimal.Zero, u.volume.Sub(r.Notional))
}

// Volume is the notional reserved by signerID today.
func (t *Throttle) Volume(signerID string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usageLocked(signerID, t.clock.Now()).volume
}
