package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeShape(t *testing.T) {
	e := New(SolverAssigned, SolverAssignedData{IntentHash: "h", SolverID: "s", Venue: "gmx-v2", Price: "3500", ExclusivityUntil: "x", TimestampNs: 7})
	b, err := e.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"standard":"deltanear_derivatives","version":"1.0.0","event":"solver_assigned",
		"data":[{"intent_hash":"h","solver_id":"s","venue":"gmx-v2","price":"3500","exclusivity_until":"x","timestamp_ns":7}]}`, string(b))
}

func TestSettlementInitiatedOmitsUnsetFees(t *testing.T) {
	b, err := New(SettlementInitiated, SettlementInitiatedData{IntentHash: "h", SolverID: "s", TimestampNs: 1}).JSON()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "protocol_fee")

	b, err = New(SimulationCompleted, SimulationCompletedData{IntentHash: "h", SimulationHash: "c", Success: true, TimestampNs: 2}).JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"standard":"deltanear_derivatives","version":"1.0.0","event":"simulation_completed",
		"data":[{"intent_hash":"h","simulation_hash":"c","success":true,"timestamp_ns":2}]}`, string(b))
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(nil, rec)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Publish(New(IntentSubmitted, nil))
	d.Publish(New(QuotesRequested, nil))
	d.Publish(New(AuctionFailed, nil))

	require.Eventually(t, func() bool { return len(rec.Events()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []Name{IntentSubmitted, QuotesRequested, AuctionFailed}, rec.Names())
}

func TestDispatcherFlushesOnClose(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(nil, rec)
	d.Publish(New(IntentSubmitted, nil))
	d.Publish(New(SolverAssigned, nil))
	d.Close()
	d.Publish(New(AuctionFailed, nil))

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []Name{IntentSubmitted, SolverAssigned}, rec.Names())
	assert.Equal(t, 0, d.Pending())
}

type failingSink struct{}

func (failingSink) Write(context.Context, Event) error { return errors.New("down") }

func TestDispatcherSurvivesSinkFailure(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), failingSink{}, rec)
	d.Publish(New(IntentSubmitted, nil))
	d.Close()
	require.NoError(t, d.Run(context.Background()))
	assert.Len(t, rec.Events(), 1)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	require.NoError(t, sink.Write(context.Background(), New(IntentSubmitted, IntentSubmittedData{IntentHash: "abc"})))
	assert.True(t, strings.Contains(buf.String(), "EVENT_JSON:"))
	assert.True(t, strings.Contains(buf.String(), "intent_submitted"))
}

type fakeRedis struct {
	channel string
	message any
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel, f.message = channel, message
	return redis.NewIntResult(1, f.err)
}

func TestRedisSink(t *testing.T) {
	client := &fakeRedis{}
	sink := NewRedisSink(client, "deltanear:events")
	require.NoError(t, sink.Write(context.Background(), New(AuctionFailed, AuctionFailedData{IntentHash: "h", Reason: "NoValidQuotes"})))
	assert.Equal(t, "deltanear:events", client.channel)
	assert.Contains(t, string(client.message.([]byte)), `"auction_failed"`)

	client.err = errors.New("connection refused")
	err := sink.Write(context.Background(), New(AuctionFailed, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: publish deltanear:events")
}
