package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpolania/DeltaNEAR-sub000/internal/auction"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/protocol"
	"github.com/bpolania/DeltaNEAR-sub000/internal/status"
)

type solverClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (f *fixture) dial(t *testing.T) *solverClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/solvers/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &solverClient{t: t, conn: conn}
}

func (c *solverClient) send(msg interface{ Type() protocol.MessageType }) {
	c.t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

func (c *solverClient) next() protocol.ServerMessage {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	msg, err := protocol.DecodeServerMessage(frame)
	require.NoError(c.t, err)
	return msg
}

func expect[T protocol.ServerMessage](t *testing.T, msg protocol.ServerMessage) T {
	t.Helper()
	m, ok := msg.(T)
	require.True(t, ok, "got %T: %+v", msg, msg)
	return m
}

func (c *solverClient) register(id string) {
	c.t.Helper()
	c.send(protocol.Register{ID: id, SupportedVenues: []string{"gmx-v2"}})
	reg := expect[protocol.Registered](c.t, c.next())
	assert.Equal(c.t, id, reg.SolverID)
	assert.NotEmpty(c.t, reg.SessionID)
}

func (f *fixture) awaitQuotes(t *testing.T, hash intent.Hash, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, ok := f.coord.Snapshot(hash)
		return ok && len(snap.Quotes) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGatewayRequiresRegistration(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)

	c.send(protocol.Heartbeat{})
	assert.Equal(t, "NotRegistered", expect[protocol.Error](t, c.next()).Code)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	assert.Equal(t, "MalformedMessage", expect[protocol.Error](t, c.next()).Code)

	c.send(protocol.Register{ID: "solver-a"})
	assert.Equal(t, "InvalidRegistration", expect[protocol.Error](t, c.next()).Code, "a solver must support a venue")
}

func TestGatewayFullAuction(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.register("solver-a")
	c.send(protocol.Heartbeat{})

	hashHex := f.submit(t)
	code, raw := f.do(t, http.MethodPost, "/v1/intents/"+hashHex+"/quotes", "")
	require.Equal(t, http.StatusOK, code, string(raw))
	assert.Equal(t, QuotesResponse{Status: "quoting", SolversContacted: []string{"solver-a"}}, decode[QuotesResponse](t, raw))

	req := expect[protocol.QuoteRequest](t, c.next())
	assert.Equal(t, hashHex, req.IntentHash.String())

	c.send(protocol.Quote{
		IntentHash: req.IntentHash,
		Price:      "3500",
		Size:       "1.5",
		FeeBps:     5,
		Venue:      "gmx-v2",
		Chain:      "arbitrum",
		Expiry:     epoch.Add(time.Hour).Format(time.RFC3339),
	})
	f.awaitQuotes(t, req.IntentHash, 1)
	f.clock.Advance(auction.DefaultQuoteWindow)

	award := expect[protocol.Award](t, c.next())
	assert.Equal(t, "3500", award.Price)

	code, raw = f.do(t, http.MethodPost, "/v1/intents/"+hashHex+"/accept", `{"signer_id":"alice.near","signature":"0xdeadbeef"}`)
	require.Equal(t, http.StatusOK, code, string(raw))
	acc := decode[AcceptResponse](t, raw)
	assert.Equal(t, "executing", acc.Status)
	assert.Equal(t, "solver-a", acc.WinningSolver)

	exec := expect[protocol.Execute](t, c.next())
	assert.Equal(t, "deadbeef", exec.Signature)

	fees := int64(5)
	c.send(protocol.ExecutionResult{
		IntentHash:       req.IntentHash,
		Status:           protocol.ExecutionSuccess,
		FillPrice:        "3500.25",
		FeesBps:          &fees,
		Nonce:            "exec-1",
		Timestamp:        f.clock.Now().Format(time.RFC3339),
		MetadataChecksum: "wrong",
	})
	denied := expect[protocol.Error](t, c.next())
	assert.Equal(t, "ChecksumMismatch", denied.Code)
	assert.Equal(t, hashHex, denied.IntentHash)

	c.send(protocol.ExecutionResult{
		IntentHash:       req.IntentHash,
		Status:           protocol.ExecutionSuccess,
		FillPrice:        "3500.25",
		FeesBps:          &fees,
		Nonce:            "exec-1",
		Timestamp:        f.clock.Now().Format(time.RFC3339),
		MetadataChecksum: exec.MetadataChecksum,
	})
	require.Eventually(t, func() bool {
		snap, ok := f.coord.Snapshot(req.IntentHash)
		return ok && snap.Status == auction.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	code, raw = f.do(t, http.MethodGet, "/v1/intents/"+hashHex, "")
	require.Equal(t, http.StatusOK, code)
	receipt := decode[status.Receipt](t, raw)
	assert.Equal(t, "completed", receipt.Status)
	assert.Equal(t, "3500.25", receipt.FillPrice)
	assert.Equal(t, "gmx-v2", receipt.Venue)
}

func TestGatewayDisconnectFailsAwardedAuction(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	c.register("solver-a")

	hashHex := f.submit(t)
	code, _ := f.do(t, http.MethodPost, "/v1/intents/"+hashHex+"/quotes", "")
	require.Equal(t, http.StatusOK, code)
	req := expect[protocol.QuoteRequest](t, c.next())

	c.send(protocol.Quote{
		IntentHash: req.IntentHash, Price: "3500", Size: "1.5", Venue: "gmx-v2", Chain: "arbitrum",
		Expiry: epoch.Add(time.Hour).Format(time.RFC3339),
	})
	f.awaitQuotes(t, req.IntentHash, 1)
	f.clock.Advance(auction.DefaultQuoteWindow)
	expect[protocol.Award](t, c.next())

	require.NoError(t, c.conn.Close())
	require.Eventually(t, func() bool {
		snap, ok := f.coord.Snapshot(req.IntentHash)
		return ok && snap.Status == auction.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.registry.Len())

	code, raw := f.do(t, http.MethodGet, "/v1/intents/"+hashHex, "")
	require.Equal(t, http.StatusOK, code)
	receipt := decode[status.Receipt](t, raw)
	assert.Equal(t, "failed", receipt.Status)
	require.NotNil(t, receipt.Error)
	assert.Equal(t, "WinnerDisconnected", receipt.Error.Code)
}

func TestGatewayReregistrationReplacesSession(t *testing.T) {
	f := newFixture(t)
	first := f.dial(t)
	first.register("solver-a")
	second := f.dial(t)
	second.register("solver-a")

	require.NoError(t, first.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := first.conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 1, f.registry.Len(), "the stale session must not remove the new one")

	solver, ok := f.registry.Get("solver-a")
	require.True(t, ok)
	assert.Equal(t, []string{"gmx-v2"}, solver.SupportedVenues)
}
