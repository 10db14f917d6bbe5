package auction

import (
	"context"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bpolania/DeltaNEAR-sub000/internal/catalog"
	"github.com/bpolania/DeltaNEAR-sub000/internal/clock"
	"github.com/bpolania/DeltaNEAR-sub000/internal/events"
	"github.com/bpolania/DeltaNEAR-sub000/internal/gate"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/protocol"
	"github.com/bpolania/DeltaNEAR-sub000/internal/registry"
	"github.com/bpolania/DeltaNEAR-sub000/internal/settlement"
	"github.com/bpolania/DeltaNEAR-sub000/internal/signer"
	"github.com/bpolania/DeltaNEAR-sub000/internal/store"
)

// Default timing and sharding.
const (
	DefaultQuoteWindow       = 5 * time.Second
	DefaultExclusivityWindow = 10 * time.Second
	DefaultRetention         = 10 * time.Minute
	DefaultShards            = 32
)

// Solvers is the part of the solver registry the coordinator uses.
type Solvers interface {
	EligibleFor(in *intent.Intent, venueOK func(string) bool) []string
	AddPending(id string, hash intent.Hash) error
	HasPending(id string, hash intent.Hash) bool
	TakePending(id string, hash intent.Hash) bool
	ClearPending(hash intent.Hash, ids []string)
	Get(id string) (registry.Solver, bool)
	Send(ctx context.Context, id string, msg protocol.ServerMessage) error
}

// Authorizer admits execution claims.
type Authorizer interface {
	Authorize(ctx context.Context, hash intent.Hash, sim gate.Simulation, claim gate.Claim) error
}

// Catalog restricts symbols, venues and position sizes.
type Catalog interface {
	Check(in *intent.Intent) error
	VenueSupports(venue string, instrument intent.Instrument) bool
	Venue(id string) (catalog.Venue, bool)
	GuardrailFor(signerID, symbol string) catalog.Guardrail
}

// Archive persists terminal auctions past their retention window.
type Archive interface {
	HasAuction(ctx context.Context, hash intent.Hash) (bool, error)
	ArchiveAuction(ctx context.Context, rec store.AuctionRecord) error
	UpdateSettlement(ctx context.Context, hash intent.Hash, outcome, reference string) error
}

type shard struct {
	mu       sync.RWMutex
	auctions map[intent.Hash]*auction
}

// Coordinator owns every live auction.
type Coordinator struct {
	shards     []*shard
	solvers    Solvers
	gate       Authorizer
	verifier   signer.Verifier
	catalog    Catalog
	archive    Archive
	settlement settlement.Service
	tracker    *settlement.Tracker
	fees       *settlement.FeeSchedule
	throttle   *gate.Throttle
	publisher  events.Publisher
	clock      clock.Clock
	seq        *clock.Sequence
	logger     *slog.Logger
	requestID  func() string

	quoteWindow time.Duration
	exclusivity time.Duration
	retention   time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source. Default: clock.Real.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithShards sets the number of auction table shards.
func WithShards(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.shards = newShards(n)
		}
	}
}

// WithQuoteWindow sets how long quotes are collected.
func WithQuoteWindow(d time.Duration) Option {
	return func(co *Coordinator) { co.quoteWindow = d }
}

// WithExclusivityWindow sets how long the winner holds exclusivity.
func WithExclusivityWindow(d time.Duration) Option {
	return func(co *Coordinator) { co.exclusivity = d }
}

// WithRetention sets how long terminal auctions stay in memory.
func WithRetention(d time.Duration) Option {
	return func(co *Coordinator) { co.retention = d }
}

// WithVerifier sets the acceptance signature verifier. Default: signer.Opaque.
func WithVerifier(v signer.Verifier) Option {
	return func(co *Coordinator) { co.verifier = v }
}

// WithCatalog enables catalog and guardrail checks.
func WithCatalog(c Catalog) Option {
	return func(co *Coordinator) { co.catalog = c }
}

// WithArchive enables archiving of terminal auctions.
func WithArchive(a Archive) Option {
	return func(co *Coordinator) { co.archive = a }
}

// WithSettlement submits completed executions to s.
func WithSettlement(s settlement.Service) Option {
	return func(co *Coordinator) { co.settlement = s }
}

// WithTracker sets the settlement tracker. Default: a fresh tracker.
func WithTracker(t *settlement.Tracker) Option {
	return func(co *Coordinator) { co.tracker = t }
}

// WithFees splits a protocol fee out of every settled fill.
func WithFees(f settlement.FeeSchedule) Option {
	return func(co *Coordinator) { co.fees = &f }
}

// WithThrottle sets the per-signer cooldown and daily volume ledger.
// Default: a fresh throttle on the coordinator clock.
func WithThrottle(t *gate.Throttle) Option {
	return func(co *Coordinator) { co.throttle = t }
}

// WithPublisher sets the event publisher. Default: events.Discard.
func WithPublisher(p events.Publisher) Option {
	return func(co *Coordinator) { co.publisher = p }
}

// WithSequence sets the quote arrival counter.
func WithSequence(s *clock.Sequence) Option {
	return func(co *Coordinator) { co.seq = s }
}

// WithRequestIDs sets the generator for quote request ids. Default: UUIDv4.
func WithRequestIDs(f func() string) Option {
	return func(co *Coordinator) { co.requestID = f }
}

// New creates a coordinator over the solver registry and execution gate.
func New(solvers Solvers, authorizer Authorizer, opts ...Option) *Coordinator {
	c := &Coordinator{
		shards:      newShards(DefaultShards),
		solvers:     solvers,
		gate:        authorizer,
		verifier:    signer.Opaque{},
		tracker:     settlement.NewTracker(),
		publisher:   events.Discard{},
		clock:       clock.Real{},
		seq:         clock.NewSequenceAt(0),
		logger:      slog.Default(),
		requestID:   uuid.NewString,
		quoteWindow: DefaultQuoteWindow,
		exclusivity: DefaultExclusivityWindow,
		retention:   DefaultRetention,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.throttle == nil {
		c.throttle = gate.NewThrottle(c.clock)
	}
	return c
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{auctions: make(map[intent.Hash]*auction)}
	}
	return shards
}

func (c *Coordinator) shardFor(hash intent.Hash) *shard {
	h := fnv.New32a()
	h.Write(hash[:])
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *Coordinator) lookup(hash intent.Hash) *auction {
	s := c.shardFor(hash)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.auctions[hash]
}

// locked finds the live auction for hash and returns it locked. Callers
// must unlock it.
func (c *Coordinator) locked(hash intent.Hash) (*auction, error) {
	a := c.lookup(hash)
	if a == nil {
		return nil, newError(CodeNotFound, hash, "no live auction")
	}
	a.mu.Lock()
	if a.removed {
		a.mu.Unlock()
		return nil, newError(CodeNotFound, hash, "no live auction")
	}
	return a, nil
}

// Tracker exposes the settlement tracker.
func (c *Coordinator) Tracker() *settlement.Tracker {
	return c.tracker
}

// Len returns the number of live auctions.
func (c *Coordinator) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.auctions)
		s.mu.RUnlock()
	}
	return n
}

// Snapshot returns a copy of the live auction for hash.
func (c *Coordinator) Snapshot(hash intent.Hash) (Snapshot, bool) {
	a, err := c.locked(hash)
	if err != nil {
		return Snapshot{}, false
	}
	defer a.mu.Unlock()
	return a.snapshot(), true
}

// outbound is a solver message produced under an auction lock.
type outbound struct {
	solverID string
	msg      protocol.ServerMessage
}

// effects collects what a transition must do once its lock is released.
type effects struct {
	events   []events.Event
	messages []outbound
	settle   *settlement.ExecutionDetails
}

func (fx *effects) emit(name events.Name, data any) {
	fx.events = append(fx.events, events.New(name, data))
}

func (fx *effects) send(solverID string, msg protocol.ServerMessage) {
	fx.messages = append(fx.messages, outbound{solverID: solverID, msg: msg})
}

// apply runs fx: sends, then events, then settlement. No auction lock
// may be held.
func (c *Coordinator) apply(ctx context.Context, fx *effects) {
	for _, m := range fx.messages {
		if err := c.solvers.Send(ctx, m.solverID, m.msg); err != nil {
			c.logger.Warn("solver send failed", "solver_id", m.solverID, "type", string(m.msg.Type()), "error", err)
		}
	}
	for _, e := range fx.events {
		c.publisher.Publish(e)
	}
	if fx.settle != nil {
		c.submitSettlement(ctx, *fx.settle)
	}
}

// stopTimerLocked cancels the auction's pending timer.
func (a *auction) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// finishLocked moves a to a terminal status and arms retention.
func (c *Coordinator) finishLocked(a *auction, status Status) {
	a.status = status
	a.finishedAt = c.clock.Now()
	a.stopTimerLocked()
	c.solvers.ClearPending(a.hash, a.contacted)
	hash := a.hash
	a.timer = c.clock.AfterFunc(c.retention, func() { c.expire(hash) })
}

// failLocked records failure and moves a to Failed.
func (c *Coordinator) failLocked(a *auction, failure *Error, fx *effects) {
	if a.reservation != nil {
		c.throttle.Release(*a.reservation)
		a.reservation = nil
	}
	a.failure = &Error{Code: failure.Code, Hash: a.hash, SolverID: failure.SolverID, Message: failure.Message}
	c.finishLocked(a, StatusFailed)
	c.logger.Info("auction failed", "intent_hash", a.hash.String(), "code", string(failure.Code), "message", failure.Message)
	fx.emit(events.AuctionFailed, events.AuctionFailedData{
		IntentHash:  a.hash.String(),
		Reason:      string(failure.Code),
		TimestampNs: a.finishedAt.UnixNano(),
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func sortedQuotes(m map[string]*Quote) []Quote {
	out := make([]Quote, 0, len(m))
	for _, q := range m {
		out = append(out, *q)
	}
	slices.SortFunc(out, func(a, b Quote) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}
