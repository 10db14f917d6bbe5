package auction

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpolania/DeltaNEAR-sub000/internal/catalog"
	"github.com/bpolania/DeltaNEAR-sub000/internal/clock"
	"github.com/bpolania/DeltaNEAR-sub000/internal/events"
	"github.com/bpolania/DeltaNEAR-sub000/internal/gate"
	"github.com/bpolania/DeltaNEAR-sub000/internal/protocol"
	"github.com/bpolania/DeltaNEAR-sub000/internal/settlement"
	"github.com/bpolania/DeltaNEAR-sub000/internal/store"
)

func openArchive(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRetentionArchivesCompletedAuction(t *testing.T) {
	archive := openArchive(t)
	e := newEnv(t, with(WithArchive(archive)), with(WithRetention(time.Minute)))
	hash := e.selectB()
	e.accept(hash)
	require.NoError(t, e.coord.ReportExecution(context.Background(), "solver-b", e.result(hash, "solver-b", "n-1")))

	e.clock.Advance(time.Minute)
	assert.Equal(t, 0, e.coord.Len())

	rec, err := archive.GetAuction(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), rec.Status)
	assert.Equal(t, "solver-b", rec.WinningSolver)
	assert.Equal(t, "gmx-v2", rec.Venue)
	assert.Equal(t, "3501.5", rec.FillPrice)
	require.NotNil(t, rec.FeesBps)
	assert.Equal(t, int64(4), *rec.FeesBps)
	require.Len(t, rec.Quotes, 2)
	assert.Equal(t, "solver-a", rec.Quotes[0].SolverID, "quotes keep arrival order")

	_, err = e.coord.Submit(context.Background(), rawIntent("1", "long"))
	assert.True(t, IsCode(err, CodeDuplicateIntent), "archived intents still count as submitted")
}

func TestLateSettlementUpdatesArchive(t *testing.T) {
	archive := openArchive(t)
	e := newEnv(t,
		with(WithArchive(archive)),
		with(WithRetention(time.Second)),
		func(clk *clock.Manual) Option {
			return WithSettlement(&settlement.Loopback{Clock: clk, Delay: time.Minute})
		},
	)
	hash := e.selectB()
	e.accept(hash)
	require.NoError(t, e.coord.ReportExecution(context.Background(), "solver-b", e.result(hash, "solver-b", "n-1")))

	e.clock.Advance(time.Second)
	rec, err := archive.GetAuction(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, string(settlement.OutcomePending), rec.SettlementOutcome)

	e.clock.Advance(time.Minute)
	rec, err = archive.GetAuction(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, string(settlement.OutcomeConfirmed), rec.SettlementOutcome)
	assert.NotEmpty(t, rec.SettlementReference)
}

func TestSettlementRejection(t *testing.T) {
	e := newEnv(t, func(clk *clock.Manual) Option {
		return WithSettlement(&settlement.Loopback{
			Clock:  clk,
			Reject: func(settlement.ExecutionDetails) string { return "venue halted" },
		})
	})
	hash := e.selectB()
	e.accept(hash)
	require.NoError(t, e.coord.ReportExecution(context.Background(), "solver-b", e.result(hash, "solver-b", "n-1")))
	e.clock.Advance(0)

	st, ok := e.coord.Tracker().Get(hash)
	require.True(t, ok)
	assert.Equal(t, settlement.OutcomeRejected, st.Outcome)
	assert.Equal(t, "venue halted", st.Reason)
	assert.Equal(t, StatusCompleted, e.snapshot(hash).Status, "settlement does not reopen the auction")
}

const testCatalog = `
venues: {
	"gmx-v2": {chain: "arbitrum", instruments: ["perp"], fee_bps: 2}
	lyra: {chain: "base", instruments: ["option"]}
}
symbols: {
	"ETH-USD": {instruments: ["perp", "option"], max_size: "100"}
}
guardrails: {
	default: {max_leverage: "20"}
	symbols: {}
	signers: {}
}
`

func parseCatalog(t *testing.T, src string) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse("test.cue", []byte(src))
	require.NoError(t, err)
	return cat
}

func TestCatalogRestrictsIntentsAndVenues(t *testing.T) {
	cat := parseCatalog(t, testCatalog)
	e := newEnv(t, with(WithCatalog(cat)))
	e.register("solver-a", "gmx-v2", "lyra")
	e.register("options-only", "lyra")

	doge := []byte(`{"version":"1.0.0","intent_type":"derivatives","derivatives":{"collateral":{"chain":"near","token":"usdc.near"},"instrument":"perp","side":"long","size":"1","symbol":"DOGE-USD"},"signer_id":"alice.near","deadline":"2024-12-31T23:59:59Z","nonce":"1"}`)
	_, err := e.coord.Submit(context.Background(), doge)
	assert.True(t, IsCode(err, CodeGuardrailViolation), "got %v", err)
	var violation *catalog.Violation
	assert.ErrorAs(t, err, &violation)

	hash := e.submit(rawIntent("1", "long"))
	res, err := e.coord.RequestQuotes(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, []string{"solver-a"}, res.SolversContacted, "option venues cannot fill perps")

	err = e.coord.SubmitQuote(context.Background(), "solver-a", protocol.Quote{
		IntentHash: hash, Price: "3500", Size: "1.5", Venue: "lyra", Chain: "base",
		Expiry: epoch.Add(time.Hour).Format(time.RFC3339),
	})
	assert.True(t, IsCode(err, CodeInvalidQuote))
}

func TestCatalogVenueChainAndFee(t *testing.T) {
	e := newEnv(t, with(WithCatalog(parseCatalog(t, testCatalog))))
	e.register("solver-a", "gmx-v2")
	e.register("solver-b", "gmx-v2")
	hash := e.open("long")
	ctx := context.Background()

	q := protocol.Quote{
		IntentHash: hash, Price: "3500", Size: "1.5", FeeBps: 3, Venue: "gmx-v2", Chain: "base",
		Expiry: epoch.Add(time.Hour).Format(time.RFC3339),
	}
	err := e.coord.SubmitQuote(ctx, "solver-a", q)
	require.True(t, IsCode(err, CodeInvalidQuote), "got %v", err)
	assert.Contains(t, err.Error(), "executes on arbitrum, not base")

	q.Chain = "arbitrum"
	require.NoError(t, e.coord.SubmitQuote(ctx, "solver-a", q))
	// 29bps from the solver and 2bps at the venue break the default 30bps cap.
	require.NoError(t, e.quote("solver-b", hash, "3400", 29, 0))
	e.clock.Advance(DefaultQuoteWindow)

	snap := e.snapshot(hash)
	require.NotNil(t, snap.Winner)
	assert.Equal(t, "solver-a", snap.Winner.SolverID)
	assert.Equal(t, int64(2), snap.Winner.VenueFeeBps)
	assert.Equal(t, int64(5), snap.Winner.CostBps())
}

func TestCatalogVenueFeeCountsAgainstMaxFee(t *testing.T) {
	e := newEnv(t, with(WithCatalog(parseCatalog(t, testCatalog))))
	e.register("solver-a", "gmx-v2")
	hash := e.open("long")

	require.NoError(t, e.quote("solver-a", hash, "3500", 29, 0))
	e.clock.Advance(DefaultQuoteWindow)

	snap := e.snapshot(hash)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, CodeNoValidQuotes, snap.Failure.Code)
}

func TestSettlementAppliesFeeSchedule(t *testing.T) {
	archive := openArchive(t)
	e := newEnv(t,
		with(WithArchive(archive)),
		with(WithRetention(time.Minute)),
		with(WithFees(settlement.FeeSchedule{ProtocolFeeBps: 5, SolverRebateBps: 2, Treasury: "treasury.near"})),
		func(clk *clock.Manual) Option { return WithSettlement(&settlement.Loopback{Clock: clk}) },
	)
	hash := e.selectB()
	e.accept(hash)
	require.NoError(t, e.coord.ReportExecution(context.Background(), "solver-b", e.result(hash, "solver-b", "n-1")))
	e.clock.Advance(0)

	want := settlement.Breakdown{
		Notional:     "5252.25",
		ProtocolFee:  "2.626125",
		SolverRebate: "1.05045",
		TreasuryNet:  "1.575675",
		Treasury:     "treasury.near",
	}
	st, ok := e.coord.Tracker().Get(hash)
	require.True(t, ok)
	require.NotNil(t, st.Fees)
	assert.Equal(t, want, *st.Fees)

	var initiated events.SettlementInitiatedData
	for _, ev := range e.recorder.Events() {
		if ev.Event == events.SettlementInitiated {
			initiated = ev.Data[0].(events.SettlementInitiatedData)
		}
	}
	assert.Equal(t, "2.626125", initiated.ProtocolFee)
	assert.Equal(t, "1.05045", initiated.SolverRebate)
	assert.Equal(t, "treasury.near", initiated.Treasury)

	e.clock.Advance(time.Minute)
	rec, err := archive.GetAuction(context.Background(), hash)
	require.NoError(t, err)
	var archived settlement.Breakdown
	require.NoError(t, json.Unmarshal(rec.SettlementFees, &archived))
	assert.Equal(t, want, archived)
}

const limitsCatalog = `
venues: "gmx-v2": {chain: "arbitrum", instruments: ["perp"]}
symbols: "ETH-USD": {instruments: ["perp"]}
guardrails: default: {cooldown_seconds: 30, max_daily_volume: "6000"}
`

func TestCooldownBetweenSubmissions(t *testing.T) {
	e := newEnv(t, with(WithCatalog(parseCatalog(t, limitsCatalog))))
	ctx := context.Background()

	e.submit(rawIntent("1", "long"))
	_, err := e.coord.Submit(ctx, rawIntent("2", "long"))
	require.True(t, IsCode(err, CodeGuardrailViolation), "got %v", err)
	assert.True(t, gate.IsDenial(err, gate.ReasonCooldownActive))
	assert.Equal(t, 1, e.coord.Len())

	e.clock.Advance(30 * time.Second)
	e.submit(rawIntent("2", "long"))
}

func TestDailyVolumeCapAtAcceptance(t *testing.T) {
	var throttle *gate.Throttle
	e := newEnv(t,
		with(WithCatalog(parseCatalog(t, limitsCatalog))),
		func(clk *clock.Manual) Option {
			throttle = gate.NewThrottle(clk)
			return WithThrottle(throttle)
		},
	)
	e.register("solver-a", "gmx-v2")
	ctx := context.Background()

	// 3500 * 1.5 = 5250 fits under the 6000 cap and is held on acceptance.
	first := e.open("long")
	require.NoError(t, e.quote("solver-a", first, "3500", 5, 0))
	e.clock.Advance(DefaultQuoteWindow)
	e.accept(first)
	assert.True(t, throttle.Volume("alice.near").Equal(decimal.NewFromInt(5250)))

	e.clock.Advance(30 * time.Second)
	second := e.submit(rawIntent("2", "long"))
	_, err := e.coord.RequestQuotes(ctx, second)
	require.NoError(t, err)
	require.NoError(t, e.quote("solver-a", second, "3500", 5, 0))
	e.clock.Advance(DefaultQuoteWindow)

	_, err = e.coord.Accept(ctx, AcceptRequest{IntentHash: second, SignerID: "alice.near", Signature: []byte("sig")})
	require.True(t, IsCode(err, CodeGuardrailViolation), "got %v", err)
	assert.True(t, gate.IsDenial(err, gate.ReasonDailyVolumeExceeded))
	assert.Equal(t, StatusSelecting, e.snapshot(second).Status, "a denied acceptance leaves the winner selected")
}

func TestFailedExecutionReleasesDailyVolume(t *testing.T) {
	var throttle *gate.Throttle
	e := newEnv(t,
		with(WithCatalog(parseCatalog(t, limitsCatalog))),
		func(clk *clock.Manual) Option {
			throttle = gate.NewThrottle(clk)
			return WithThrottle(throttle)
		},
	)
	e.register("solver-a", "gmx-v2")

	hash := e.open("long")
	require.NoError(t, e.quote("solver-a", hash, "3500", 5, 0))
	e.clock.Advance(DefaultQuoteWindow)
	e.accept(hash)
	require.False(t, throttle.Volume("alice.near").IsZero())

	e.clock.Advance(DefaultExclusivityWindow)
	assert.Equal(t, StatusFailed, e.snapshot(hash).Status)
	assert.True(t, throttle.Volume("alice.near").IsZero())
}
