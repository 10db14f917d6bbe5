package harness

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bpolania/DeltaNEAR-sub000/internal/auction"
	"github.com/bpolania/DeltaNEAR-sub000/internal/catalog"
	"github.com/bpolania/DeltaNEAR-sub000/internal/clock"
	"github.com/bpolania/DeltaNEAR-sub000/internal/events"
	"github.com/bpolania/DeltaNEAR-sub000/internal/gate"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/nonce"
	"github.com/bpolania/DeltaNEAR-sub000/internal/protocol"
	"github.com/bpolania/DeltaNEAR-sub000/internal/registry"
	"github.com/bpolania/DeltaNEAR-sub000/internal/settlement"
	"github.com/bpolania/DeltaNEAR-sub000/internal/status"
	"github.com/bpolania/DeltaNEAR-sub000/internal/store"
)

// DefaultStart is the virtual clock's starting instant.
var DefaultStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// DefaultSignature is the hex acceptance signature used when a step gives none.
const DefaultSignature = "7369676e6564"

var errConnClosed = errors.New("solver connection closed")

// Harness holds the per-run state of one scenario.
type Harness struct {
	ctx      context.Context
	scenario *Scenario

	clock     *clock.Manual
	registry  *registry.Registry
	coord     *auction.Coordinator
	archive   *store.Store
	projector *status.Projector
	recorder  *events.Recorder

	conns   map[string]*solverConn
	solvers map[string]SolverSpec
	intents map[string]*intent.Canonical
	names   map[intent.Hash]string
	traced  int
	seq     int64
	result  *Result
}

// Run executes a scenario and returns its result. The error is reserved
// for scenarios that cannot run at all; failed expectations and
// assertions are reported in the result.
func Run(s *Scenario) (*Result, error) {
	h, err := newHarness(context.Background(), s)
	if err != nil {
		return nil, err
	}
	defer h.archive.Close()

	for _, sv := range s.Solvers {
		if sv.Deferred {
			continue
		}
		if err := h.register(sv); err != nil {
			return nil, fmt.Errorf("register solver %s: %w", sv.ID, err)
		}
	}

	for i, st := range s.Steps {
		if err := h.runStep(i, st); err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, st.Action, err)
		}
	}

	h.collectReceipts()
	for _, err := range EvaluateAssertions(h.result, s.Assertions) {
		h.result.AddError(err.Error())
	}
	return h.result, nil
}

func newHarness(ctx context.Context, s *Scenario) (*Harness, error) {
	start := s.Start
	if start.IsZero() {
		start = DefaultStart
	}
	clk := clock.NewManual(start.UTC())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	archive, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	requests := clock.NewSequenceAt(0)
	recorder := &events.Recorder{}
	reg := registry.New(registry.WithClock(clk), registry.WithLogger(logger))
	g := gate.New(nonce.NewMemoryLedger(), gate.WithClock(clk), gate.WithLogger(logger))

	opts := []auction.Option{
		auction.WithClock(clk),
		auction.WithLogger(logger),
		auction.WithPublisher(recorder),
		auction.WithArchive(archive),
		auction.WithSettlement(&settlement.Loopback{Clock: clk, Delay: s.Windows.Settlement}),
		auction.WithRequestIDs(func() string { return fmt.Sprintf("req-%d", requests.Next()) }),
	}
	if s.Windows.Quote > 0 {
		opts = append(opts, auction.WithQuoteWindow(s.Windows.Quote))
	}
	if s.Windows.Exclusivity > 0 {
		opts = append(opts, auction.WithExclusivityWindow(s.Windows.Exclusivity))
	}
	if s.Windows.Retention > 0 {
		opts = append(opts, auction.WithRetention(s.Windows.Retention))
	}
	if s.Catalog != "" {
		cat, err := catalog.Load(s.Catalog)
		if err != nil {
			archive.Close()
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		opts = append(opts, auction.WithCatalog(cat))
		if fees, ok := cat.Fees(); ok {
			opts = append(opts, auction.WithFees(fees))
		}
	}
	coord := auction.New(reg, g, opts...)

	h := &Harness{
		ctx:       ctx,
		scenario:  s,
		clock:     clk,
		registry:  reg,
		coord:     coord,
		archive:   archive,
		projector: status.New(coord, archive),
		recorder:  recorder,
		conns:     make(map[string]*solverConn),
		solvers:   make(map[string]SolverSpec),
		intents:   make(map[string]*intent.Canonical),
		names:     make(map[intent.Hash]string),
		result:    NewResult(),
	}
	for _, sv := range s.Solvers {
		h.solvers[sv.ID] = sv
	}

	// Intents that fail canonicalization stay unbound; submitting them
	// is how a scenario exercises rejections.
	names := make([]string, 0, len(s.Intents))
	for name := range s.Intents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		can, err := intent.Normalize([]byte(s.Intents[name]))
		if err != nil {
			continue
		}
		h.intents[name] = can
		h.result.Hashes[name] = can.Hash.String()
		if _, taken := h.names[can.Hash]; !taken {
			h.names[can.Hash] = name
		}
	}
	return h, nil
}

func (h *Harness) register(sv SolverSpec) error {
	caps := registry.Capabilities{SupportedVenues: sv.Venues}
	if sv.MaxExposure != "" {
		exposure, err := decimal.NewFromString(sv.MaxExposure)
		if err != nil {
			return fmt.Errorf("max_exposure %q: %w", sv.MaxExposure, err)
		}
		caps.MaxExposure = exposure
	}
	conn := newSolverConn()
	if err := h.registry.Register(sv.ID, caps, conn); err != nil {
		return err
	}
	h.conns[sv.ID] = conn
	return nil
}

// runStep performs one step, traces it and checks its expectation. It only
// returns an error when the scenario itself is unusable.
func (h *Harness) runStep(i int, st Step) error {
	var (
		can       *intent.Canonical
		hash      intent.Hash
		contacted []string
		stepErr   error
	)
	if st.Intent != "" {
		var ok bool
		if can, ok = h.intents[st.Intent]; ok {
			hash = can.Hash
		} else if st.Action != ActionSubmit {
			return fmt.Errorf("intent %q does not canonicalize", st.Intent)
		}
	}

	switch st.Action {
	case ActionSubmit:
		_, stepErr = h.coord.Submit(h.ctx, []byte(h.scenario.Intents[st.Intent]))

	case ActionRequestQuotes:
		var res auction.RequestResult
		res, stepErr = h.coord.RequestQuotes(h.ctx, hash)
		contacted = res.SolversContacted

	case ActionQuote:
		stepErr = h.coord.SubmitQuote(h.ctx, st.Solver, h.quote(can, st.Quote))

	case ActionAdvance:
		h.clock.Advance(st.Duration)

	case ActionAccept:
		req, err := h.acceptance(can, st.Accept)
		if err != nil {
			return err
		}
		_, stepErr = h.coord.Accept(h.ctx, req)

	case ActionReport:
		stepErr = h.coord.ReportExecution(h.ctx, st.Solver, h.report(i, hash, st))

	case ActionRegister:
		stepErr = h.register(h.solvers[st.Solver])

	case ActionDisconnect:
		if conn, ok := h.conns[st.Solver]; ok {
			conn.Close()
			if h.registry.RemoveConn(st.Solver, conn) {
				h.coord.SolverDisconnected(st.Solver)
			}
		}

	case ActionHeartbeat:
		stepErr = h.registry.Heartbeat(st.Solver)

	case ActionSweep:
		h.registry.EvictStale(h.clock.Now(), registry.DefaultHeartbeatTimeout)
	}

	entry := TraceEvent{Type: TraceStep, Action: st.Action, Intent: st.Intent, Solver: st.Solver, Outcome: "ok"}
	if stepErr != nil {
		entry.Outcome = errorCode(stepErr)
	}
	receipt, known := h.receipt(hash)
	if known {
		entry.Status = receipt.Status
	}
	h.trace(entry)
	h.flushMessages()
	h.flushEvents()

	h.check(i, st, stepErr, receipt, known, contacted)
	return nil
}

func (h *Harness) quote(can *intent.Canonical, q *QuoteSpec) protocol.Quote {
	size := q.Size
	if size == "" {
		size = can.Intent.Derivatives.Size
	}
	ttl := q.ExpiresIn
	if ttl == 0 {
		ttl = time.Hour
	}
	return protocol.Quote{
		IntentHash:   can.Hash,
		Price:        q.Price,
		Size:         size,
		FeeBps:       q.FeeBps,
		FundingBps8h: q.FundingBps8h,
		SlippageBps:  q.SlippageBps,
		Venue:        q.Venue,
		Chain:        q.Chain,
		Expiry:       h.clock.Now().Add(ttl).Format(time.RFC3339),
	}
}

func (h *Harness) acceptance(can *intent.Canonical, a *AcceptSpec) (auction.AcceptRequest, error) {
	var spec AcceptSpec
	if a != nil {
		spec = *a
	}
	if spec.Signer == "" {
		spec.Signer = can.Intent.SignerID
	}
	if spec.Signature == "" {
		spec.Signature = DefaultSignature
	}
	sig, err := hex.DecodeString(spec.Signature)
	if err != nil {
		return auction.AcceptRequest{}, fmt.Errorf("signature is not hex: %w", err)
	}
	return auction.AcceptRequest{IntentHash: can.Hash, SignerID: spec.Signer, Signature: sig}, nil
}

func (h *Harness) report(i int, hash intent.Hash, st Step) protocol.ExecutionResult {
	var spec ReportSpec
	if st.Report != nil {
		spec = *st.Report
	}
	res := protocol.ExecutionResult{
		IntentHash:       hash,
		Status:           spec.Status,
		FillPrice:        spec.FillPrice,
		FeesBps:          spec.FeesBps,
		Nonce:            spec.Nonce,
		Timestamp:        h.clock.Now().Add(spec.Skew).Format(time.RFC3339),
		MetadataChecksum: spec.Checksum,
		Error:            spec.Error,
	}
	if res.Status == "" {
		res.Status = protocol.ExecutionSuccess
	}
	if res.Nonce == "" {
		res.Nonce = fmt.Sprintf("%s-%d", st.Solver, i)
	}
	if res.MetadataChecksum == "" {
		if conn, ok := h.conns[st.Solver]; ok {
			if ex, ok := conn.executeFor(hash); ok {
				res.MetadataChecksum = ex.MetadataChecksum
			}
		}
	}
	return res
}

func (h *Harness) check(i int, st Step, err error, receipt status.Receipt, known bool, contacted []string) {
	label := fmt.Sprintf("steps[%d] %s", i, st.Action)
	var want Expect
	if st.Expect != nil {
		want = *st.Expect
	}

	switch {
	case err == nil && want.Error != "":
		h.result.AddError(fmt.Sprintf("%s: expected error %s, step succeeded", label, want.Error))
	case err != nil && want.Error == "":
		h.result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, err))
	case err != nil && errorCode(err) != want.Error:
		h.result.AddError(fmt.Sprintf("%s: expected error %s, got %s (%v)", label, want.Error, errorCode(err), err))
	}

	if want.Status != "" {
		got := ""
		if known {
			got = receipt.Status
		}
		if got != want.Status {
			h.result.AddError(fmt.Sprintf("%s: expected status %s, got %q", label, want.Status, got))
		}
	}
	if want.Winner != "" && receipt.WinningSolver != want.Winner {
		h.result.AddError(fmt.Sprintf("%s: expected winner %s, got %q", label, want.Winner, receipt.WinningSolver))
	}
	if want.SolversContacted != nil && !slices.Equal(contacted, want.SolversContacted) {
		h.result.AddError(fmt.Sprintf("%s: expected solvers contacted %v, got %v", label, want.SolversContacted, contacted))
	}
}

func (h *Harness) receipt(hash intent.Hash) (status.Receipt, bool) {
	if hash.IsZero() {
		return status.Receipt{}, false
	}
	r, err := h.projector.Project(h.ctx, hash)
	if err != nil {
		return status.Receipt{}, false
	}
	return r, true
}

func (h *Harness) collectReceipts() {
	h.result.Receipts = make(map[string]status.Receipt)
	for name, can := range h.intents {
		if r, ok := h.receipt(can.Hash); ok {
			h.result.Receipts[name] = r
		}
	}
}

func (h *Harness) trace(e TraceEvent) {
	h.seq++
	e.Seq = h.seq
	h.result.Trace = append(h.result.Trace, e)
}

// flushMessages traces frames delivered since the last step, solver by
// solver in id order.
func (h *Harness) flushMessages() {
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, msg := range h.conns[id].drain() {
			h.trace(TraceEvent{
				Type:   TraceMessage,
				Action: string(msg.Type()),
				Intent: h.names[messageHash(msg)],
				Solver: id,
			})
		}
	}
}

func (h *Harness) flushEvents() {
	all := h.recorder.Events()
	for _, e := range all[h.traced:] {
		var payload any = e.Data
		if len(e.Data) == 1 {
			payload = e.Data[0]
		}
		data, err := json.Marshal(payload)
		if err != nil {
			h.result.AddError(fmt.Sprintf("event %s: %v", e.Event, err))
			continue
		}
		var ref struct {
			IntentHash string `json:"intent_hash"`
		}
		_ = json.Unmarshal(data, &ref)
		var name string
		if hash, err := intent.ParseHash(ref.IntentHash); err == nil {
			name = h.names[hash]
		}
		h.trace(TraceEvent{Type: TraceLifecycle, Action: string(e.Event), Intent: name, Data: data})
	}
	h.traced = len(all)
}

// errorCode maps a step error to the code a client would see.
func errorCode(err error) string {
	if code, ok := auction.CodeOf(err); ok {
		return string(code)
	}
	var denial *gate.Denial
	if errors.As(err, &denial) {
		return string(denial.Reason)
	}
	if rej, ok := intent.AsRejection(err); ok {
		return string(rej.Reason)
	}
	switch {
	case errors.Is(err, registry.ErrInvalidRegistration):
		return "InvalidRegistration"
	case errors.Is(err, registry.ErrNotFound):
		return "NotRegistered"
	}
	return "Internal"
}

func messageHash(msg protocol.ServerMessage) intent.Hash {
	switch m := msg.(type) {
	case protocol.QuoteRequest:
		return m.IntentHash
	case protocol.Award:
		return m.IntentHash
	case protocol.Execute:
		return m.IntentHash
	}
	return intent.Hash{}
}

// solverConn is an in-process solver connection that records every frame.
type solverConn struct {
	mu      sync.Mutex
	pending []protocol.ServerMessage
	execute map[intent.Hash]protocol.Execute
	closed  bool
}

func newSolverConn() *solverConn {
	return &solverConn{execute: make(map[intent.Hash]protocol.Execute)}
}

func (c *solverConn) Send(_ context.Context, msg protocol.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.pending = append(c.pending, msg)
	if ex, ok := msg.(protocol.Execute); ok {
		c.execute[ex.IntentHash] = ex
	}
	return nil
}

func (c *solverConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *solverConn) drain() []protocol.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

func (c *solverConn) executeFor(hash intent.Hash) (protocol.Execute, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ex, ok := c.execute[hash]
	return ex, ok
}
