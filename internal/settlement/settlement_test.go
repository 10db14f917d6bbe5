package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpolania/DeltaNEAR-sub000/internal/clock"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	h := intent.Hash{1}

	_, ok := tr.Get(h)
	assert.False(t, ok)
	resolved, tracked := tr.Resolve(h, Result{Outcome: OutcomeConfirmed}, epoch)
	assert.False(t, resolved)
	assert.False(t, tracked, "unknown hash")

	tr.Begin(h, epoch, nil)
	s, ok := tr.Get(h)
	require.True(t, ok)
	assert.Equal(t, OutcomePending, s.Outcome)

	resolved, _ = tr.Resolve(h, Result{Outcome: OutcomeConfirmed, Reference: "ref"}, epoch.Add(time.Second))
	assert.True(t, resolved)
	resolved, tracked = tr.Resolve(h, Result{Outcome: OutcomeRejected}, epoch.Add(2*time.Second))
	assert.False(t, resolved, "final")
	assert.True(t, tracked)

	s, _ = tr.Get(h)
	assert.Equal(t, OutcomeConfirmed, s.Outcome)
	assert.Equal(t, "ref", s.Reference)
	assert.Equal(t, epoch.Add(time.Second), s.ResolvedAt)
}

func TestTrackerRetire(t *testing.T) {
	tr := NewTracker()
	h := intent.Hash{2}
	fees := &Breakdown{ProtocolFee: "1"}
	tr.Begin(h, epoch, fees)

	err := tr.Retire(h, func(*Status) error { return errors.New("disk full") })
	require.Error(t, err)
	_, ok := tr.Get(h)
	assert.True(t, ok, "a failed archive keeps the status")

	var archived *Status
	require.NoError(t, tr.Retire(h, func(st *Status) error { archived = st; return nil }))
	require.NotNil(t, archived)
	assert.Equal(t, OutcomePending, archived.Outcome)
	assert.Equal(t, fees, archived.Fees)
	_, ok = tr.Get(h)
	assert.False(t, ok)

	_, tracked := tr.Resolve(h, Result{Outcome: OutcomeConfirmed}, epoch)
	assert.False(t, tracked, "callbacks after Retire find nothing")

	require.NoError(t, tr.Retire(intent.Hash{3}, func(st *Status) error {
		assert.Nil(t, st)
		return nil
	}))
}

func TestTrackerRetireBlocksResolve(t *testing.T) {
	tr := NewTracker()
	h := intent.Hash{4}
	tr.Begin(h, epoch, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	var seen Outcome
	go func() {
		defer close(done)
		_ = tr.Retire(h, func(st *Status) error {
			close(entered)
			<-release
			seen = st.Outcome
			return nil
		})
	}()

	<-entered
	resolvedc := make(chan bool, 1)
	go func() {
		_, tracked := tr.Resolve(h, Result{Outcome: OutcomeConfirmed}, epoch)
		resolvedc <- tracked
	}()
	close(release)
	<-done

	assert.Equal(t, OutcomePending, seen)
	assert.False(t, <-resolvedc, "Resolve waited for Retire and found the hash gone")
}

func TestLoopbackConfirms(t *testing.T) {
	clk := clock.NewManual(epoch)
	svc := &Loopback{Clock: clk, Delay: 2 * time.Second}

	var got *Result
	require.NoError(t, svc.Submit(context.Background(), ExecutionDetails{IntentHash: intent.Hash{9}}, func(r Result) { got = &r }))
	clk.Advance(time.Second)
	assert.Nil(t, got)

	clk.Advance(time.Second)
	require.NotNil(t, got)
	assert.Equal(t, OutcomeConfirmed, got.Outcome)
	assert.Len(t, got.Reference, 64)
}

func TestLoopbackRejects(t *testing.T) {
	clk := clock.NewManual(epoch)
	svc := &Loopback{Clock: clk, Reject: func(d ExecutionDetails) string {
		if d.Venue == "blocked" {
			return "venue halted"
		}
		return ""
	}}

	var got Result
	require.NoError(t, svc.Submit(context.Background(), ExecutionDetails{Venue: "blocked"}, func(r Result) { got = r }))
	clk.Advance(0)
	assert.Equal(t, OutcomeRejected, got.Outcome)
	assert.Equal(t, "venue halted", got.Reason)
}
