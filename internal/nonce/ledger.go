// Package nonce records consumed execution-claim nonces for replay
// protection. MemoryLedger suits tests and single-process runs;
// PebbleLedger survives restarts.
package nonce

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Ledger is a set of consumed nonce keys.
type Ledger interface {
	// Seen reports whether key was consumed.
	Seen(ctx context.Context, key string) (bool, error)

	// Consume marks key consumed. It returns false if it already was, so two
	// racing consumers cannot both succeed.
	Consume(ctx context.Context, key string, at time.Time) (bool, error)

	Close() error
}

// Key scopes a nonce to the solver presenting it. The solver id is length
// prefixed, so no (solver, nonce) pair shares a key with another.
func Key(solverID, nonce string) string {
	return strconv.Itoa(len(solverID)) + ":" + solverID + "/" + nonce
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu   sync.Mutex
	used map[string]time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{used: make(map[string]time.Time)}
}

func (l *MemoryLedger) Seen(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.used[key]
	return ok, nil
}

func (l *MemoryLedger) Consume(_ context.Context, key string, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.used[key]; ok {
		return false, nil
	}
	l.used[key] = at
	return true, nil
}

func (l *MemoryLedger) Close() error { return nil }
