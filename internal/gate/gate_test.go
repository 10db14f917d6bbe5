package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpolania/DeltaNEAR-sub000/internal/clock"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/nonce"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Gate, *clock.Manual, Simulation) {
	t.Helper()
	clk := clock.NewManual(epoch)
	g := New(nonce.NewMemoryLedger(), WithClock(clk))
	meta := Metadata{IntentHash: intent.Hash{1}, SolverID: "solver-a", Venue: "gmx-v2", Chain: "arbitrum", Price: "3500", Size: "1.5", FeeBps: 5}
	return g, clk, Simulation{RecordedAt: epoch, MetadataChecksum: meta.Checksum()}
}

func claimFor(sim Simulation, at time.Time, n string) Claim {
	return Claim{SolverID: "solver-a", Nonce: n, Timestamp: at, MetadataChecksum: sim.MetadataChecksum}
}

func TestAuthorizeAllows(t *testing.T) {
	g, clk, sim := setup(t)
	clk.Advance(10 * time.Second)
	require.NoError(t, g.Authorize(context.Background(), intent.Hash{1}, sim, claimFor(sim, clk.Now(), "n1")))
}

func TestAuthorizeDenials(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		claim   func(sim Simulation, now time.Time) Claim
		reason  DenialReason
	}{
		{"skew ahead", 0, func(s Simulation, now time.Time) Claim { return claimFor(s, now.Add(31*time.Second), "n") }, ReasonClockSkewExceeded},
		{"skew behind", 40 * time.Second, func(s Simulation, now time.Time) Claim { return claimFor(s, now.Add(-31*time.Second), "n") }, ReasonClockSkewExceeded},
		{"window expired", 301 * time.Second, func(s Simulation, now time.Time) Claim { return claimFor(s, now, "n") }, ReasonWindowExpired},
		{"checksum mismatch", 0, func(s Simulation, now time.Time) Claim {
			c := claimFor(s, now, "n")
			c.MetadataChecksum = Metadata{SolverID: "solver-a", Price: "1"}.Checksum()
			return c
		}, ReasonChecksumMismatch},
		{"empty nonce", 0, func(s Simulation, now time.Time) Claim { return claimFor(s, now, "") }, ReasonReplayDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, clk, sim := setup(t)
			clk.Advance(tt.advance)
			err := g.Authorize(context.Background(), intent.Hash{1}, sim, tt.claim(sim, clk.Now()))
			require.Error(t, err)
			assert.True(t, IsDenial(err, tt.reason), "got %v", err)
		})
	}
}

func TestAuthorizeWindowBoundaryInclusive(t *testing.T) {
	g, clk, sim := setup(t)
	clk.Advance(300 * time.Second)
	require.NoError(t, g.Authorize(context.Background(), intent.Hash{1}, sim, claimFor(sim, clk.Now().Add(30*time.Second), "n1")))
}

func TestAuthorizeReplay(t *testing.T) {
	g, clk, sim := setup(t)
	ctx := context.Background()
	require.NoError(t, g.Authorize(ctx, intent.Hash{1}, sim, claimFor(sim, clk.Now(), "n1")))

	err := g.Authorize(ctx, intent.Hash{1}, sim, claimFor(sim, clk.Now(), "n1"))
	assert.True(t, IsDenial(err, ReasonReplayDetected))
}

func TestDeniedClaimDoesNotConsumeNonce(t *testing.T) {
	g, clk, sim := setup(t)
	ctx := context.Background()

	bad := claimFor(sim, clk.Now(), "n1")
	bad.MetadataChecksum = "tampered"
	require.True(t, IsDenial(g.Authorize(ctx, intent.Hash{1}, sim, bad), ReasonChecksumMismatch))

	require.NoError(t, g.Authorize(ctx, intent.Hash{1}, sim, claimFor(sim, clk.Now(), "n1")))
}

type failingLedger struct{ nonce.MemoryLedger }

func (*failingLedger) Seen(context.Context, string) (bool, error) {
	return false, errors.New("disk full")
}

func TestAuthorizeLedgerError(t *testing.T) {
	clk := clock.NewManual(epoch)
	g := New(&failingLedger{}, WithClock(clk))
	err := g.Authorize(context.Background(), intent.Hash{1}, Simulation{RecordedAt: epoch}, Claim{Nonce: "n", Timestamp: epoch})
	require.Error(t, err)
	var d *Denial
	assert.False(t, errors.As(err, &d))
}

func TestMetadataChecksumStable(t *testing.T) {
	m := Metadata{IntentHash: intent.Hash{2}, SolverID: "s", Venue: "v", Chain: "c", Price: "1", Size: "2", FeeBps: 3}
	assert.Equal(t, m.Checksum(), m.Checksum())
	assert.Len(t, m.Checksum(), 64)

	changed := m
	changed.Price = "1.1"
	assert.NotEqual(t, m.Checksum(), changed.Checksum())
}
