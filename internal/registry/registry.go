// Package registry tracks connected solvers, their venue capabilities and
// liveness.
//
// The solver table is sharded by solver id; each shard is an RWMutex over a
// map, so reads never block writers of unrelated solvers. The registry knows
// nothing about auction state: eviction removes future eligibility and closes
// the connection, nothing more.
package registry

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bpolania/DeltaNEAR-sub000/internal/canonjson"
	"github.com/bpolania/DeltaNEAR-sub000/internal/clock"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/protocol"
)

// Default liveness policy.
const (
	DefaultSweepInterval    = 10 * time.Second
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultShards           = 16
)

var (
	// ErrNotFound is returned for operations on an unregistered solver.
	ErrNotFound = errors.New("solver not registered")

	// ErrInvalidRegistration is returned for malformed capabilities.
	ErrInvalidRegistration = errors.New("invalid registration")
)

// Conn is the duplex channel to one solver.
type Conn interface {
	Send(ctx context.Context, msg protocol.ServerMessage) error
	Close() error
}

// Capabilities is what a solver declares on registration.
type Capabilities struct {
	SupportedVenues []string
	// MaxExposure caps the intent size the solver will quote. Zero means no cap.
	MaxExposure decimal.Decimal
}

// Solver is a read-only snapshot of a registered solver.
type Solver struct {
	ID              string
	SupportedVenues []string
	MaxExposure     decimal.Decimal
	LastHeartbeat   time.Time
	RegisteredAt    time.Time
	PendingRequests []intent.Hash
}

type entry struct {
	id            string
	venues        []string
	maxExposure   decimal.Decimal
	lastHeartbeat time.Time
	registeredAt  time.Time
	pending       map[intent.Hash]struct{}
	conn          Conn
}

type shard struct {
	mu      sync.RWMutex
	solvers map[string]*entry
}

// Registry is the solver table.
type Registry struct {
	shards           []*shard
	clock            clock.Clock
	logger           *slog.Logger
	sweepInterval    time.Duration
	heartbeatTimeout time.Duration

	sweepMu    sync.Mutex
	sweepTimer clock.Timer
	sweeping   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source. Default: clock.Real.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithShards sets the shard count.
func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shards = newShards(n)
		}
	}
}

// WithSweepInterval sets how often the liveness sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepInterval = d }
}

// WithHeartbeatTimeout sets how stale a heartbeat may be before eviction.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(r *Registry) { r.heartbeatTimeout = d }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		shards:           newShards(DefaultShards),
		clock:            clock.Real{},
		logger:           slog.Default(),
		sweepInterval:    DefaultSweepInterval,
		heartbeatTimeout: DefaultHeartbeatTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{solvers: make(map[string]*entry)}
	}
	return shards
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Register adds or replaces a solver. Re-registering an id replaces its
// capabilities and connection; the previous connection is closed and its
// pending requests are dropped.
func (r *Registry) Register(id string, caps Capabilities, conn Conn) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: solver id is empty", ErrInvalidRegistration)
	}
	if caps.MaxExposure.IsNegative() {
		return fmt.Errorf("%w: max_exposure must not be negative", ErrInvalidRegistration)
	}

	venues := make([]string, 0, len(caps.SupportedVenues))
	for _, v := range caps.SupportedVenues {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			venues = append(venues, v)
		}
	}
	slices.SortFunc(venues, canonjson.CompareUTF16)
	venues = slices.Compact(venues)
	if len(venues) == 0 {
		return fmt.Errorf("%w: solver %s supports no venues", ErrInvalidRegistration, id)
	}

	now := r.clock.Now()
	e := &entry{
		id:            id,
		venues:        venues,
		maxExposure:   caps.MaxExposure,
		lastHeartbeat: now,
		registeredAt:  now,
		pending:       make(map[intent.Hash]struct{}),
		conn:          conn,
	}

	s := r.shardFor(id)
	s.mu.Lock()
	prev := s.solvers[id]
	s.solvers[id] = e
	s.mu.Unlock()

	if prev != nil && prev.conn != nil && prev.conn != conn {
		_ = prev.conn.Close()
	}
	r.logger.Info("solver registered", "solver_id", id, "venues", venues)
	return nil
}

// Heartbeat refreshes a solver's liveness.
func (r *Registry) Heartbeat(id string) error {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.solvers[id]
	if !ok {
		return ErrNotFound
	}
	e.lastHeartbeat = r.clock.Now()
	return nil
}

// Remove deletes a solver without closing its connection. Used when the
// connection is already gone. It reports whether the solver was present.
func (r *Registry) Remove(id string) bool {
	return r.RemoveConn(id, nil)
}

// RemoveConn deletes a solver only if it is still bound to conn (any
// connection when conn is nil), so a stale session cannot remove a solver
// that re-registered on a new connection.
func (r *Registry) RemoveConn(id string, conn Conn) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.solvers[id]
	if !ok || (conn != nil && e.conn != conn) {
		return false
	}
	delete(s.solvers, id)
	r.logger.Info("solver removed", "solver_id", id)
	return true
}

// EvictStale removes every solver whose last heartbeat is older than
// timeout at now, closes their connections, and returns their ids sorted.
func (r *Registry) EvictStale(now time.Time, timeout time.Duration) []string {
	var evicted []*entry
	for _, s := range r.shards {
		s.mu.Lock()
		for id, e := range s.solvers {
			if now.Sub(e.lastHeartbeat) > timeout {
				delete(s.solvers, id)
				evicted = append(evicted, e)
			}
		}
		s.mu.Unlock()
	}

	ids := make([]string, 0, len(evicted))
	for _, e := range evicted {
		if e.conn != nil {
			_ = e.conn.Close()
		}
		ids = append(ids, e.id)
	}
	slices.Sort(ids)
	if len(ids) > 0 {
		r.logger.Info("evicted stale solvers", "solver_ids", ids, "timeout", timeout)
	}
	return ids
}

// EligibleFor returns, sorted, the solvers able to serve in: at least one
// supported venue passes venueOK (nil accepts all) and, when the intent
// carries a venue allowlist, lies in it; and the intent size is within the
// solver's exposure cap.
func (r *Registry) EligibleFor(in *intent.Intent, venueOK func(string) bool) []string {
	allow := in.Derivatives.Constraints.VenueAllowlist
	size, err := decimal.NewFromString(in.Derivatives.Size)
	if err != nil {
		return nil
	}

	var ids []string
	for _, s := range r.shards {
		s.mu.RLock()
		for id, e := range s.solvers {
			if !e.maxExposure.IsZero() && size.GreaterThan(e.maxExposure) {
				continue
			}
			if slices.ContainsFunc(e.venues, func(v string) bool {
				return (len(allow) == 0 || slices.Contains(allow, v)) && (venueOK == nil || venueOK(v))
			}) {
				ids = append(ids, id)
			}
		}
		s.mu.RUnlock()
	}
	slices.Sort(ids)
	return ids
}

// AddPending records an outstanding quote request for hash on solver id.
func (r *Registry) AddPending(id string, hash intent.Hash) error {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.solvers[id]
	if !ok {
		return ErrNotFound
	}
	e.pending[hash] = struct{}{}
	return nil
}

// HasPending reports whether solver id has an outstanding request for hash.
func (r *Registry) HasPending(id string, hash intent.Hash) bool {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.solvers[id]
	if !ok {
		return false
	}
	_, ok = e.pending[hash]
	return ok
}

// TakePending clears the outstanding request for hash on solver id and
// reports whether one existed.
func (r *Registry) TakePending(id string, hash intent.Hash) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.solvers[id]
	if !ok {
		return false
	}
	if _, ok := e.pending[hash]; !ok {
		return false
	}
	delete(e.pending, hash)
	return true
}

// ClearPending drops the outstanding request for hash on each listed solver.
func (r *Registry) ClearPending(hash intent.Hash, ids []string) {
	for _, id := range ids {
		r.TakePending(id, hash)
	}
}

// Send delivers msg to solver id. The shard lock is not held during I/O.
func (r *Registry) Send(ctx context.Context, id string, msg protocol.ServerMessage) error {
	s := r.shardFor(id)
	s.mu.RLock()
	e, ok := s.solvers[id]
	var conn Conn
	if ok {
		conn = e.conn
	}
	s.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	if conn == nil {
		return fmt.Errorf("solver %s has no connection", id)
	}
	if err := conn.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Type(), id, err)
	}
	return nil
}

// Get returns a snapshot of solver id.
func (r *Registry) Get(id string) (Solver, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.solvers[id]
	if !ok {
		return Solver{}, false
	}
	return e.snapshot(), true
}

// List returns snapshots of every solver, sorted by id.
func (r *Registry) List() []Solver {
	var out []Solver
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.solvers {
			out = append(out, e.snapshot())
		}
		s.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b Solver) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of registered solvers.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.solvers)
		s.mu.RUnlock()
	}
	return n
}

func (e *entry) snapshot() Solver {
	pending := make([]intent.Hash, 0, len(e.pending))
	for h := range e.pending {
		pending = append(pending, h)
	}
	slices.SortFunc(pending, func(a, b intent.Hash) int { return strings.Compare(a.String(), b.String()) })
	return Solver{
		ID:              e.id,
		SupportedVenues: slices.Clone(e.venues),
		MaxExposure:     e.maxExposure,
		LastHeartbeat:   e.lastHeartbeat,
		RegisteredAt:    e.registeredAt,
		PendingRequests: pending,
	}
}
