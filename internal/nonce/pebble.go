package nonce

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const keyPrefix = "nonce/"

// PebbleLedger persists consumed nonces in a Pebble store.
//
// Consume is serialized by a mutex so the read-check-write is atomic within
// the process; Pebble itself gives no compare-and-set.
type PebbleLedger struct {
	mu sync.Mutex
	db *pebble.DB
}

// OpenPebble opens (creating if needed) a ledger at dir.
func OpenPebble(dir string) (*PebbleLedger, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open nonce ledger %s: %w", dir, err)
	}
	return &PebbleLedger{db: db}, nil
}

func (l *PebbleLedger) Seen(_ context.Context, key string) (bool, error) {
	return l.has(key)
}

func (l *PebbleLedger) Consume(_ context.Context, key string, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen, err := l.has(key)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, uint64(at.UnixNano()))
	if err := l.db.Set([]byte(keyPrefix+key), val, pebble.Sync); err != nil {
		return false, fmt.Errorf("consume nonce %s: %w", key, err)
	}
	return true, nil
}

// ConsumedAt returns when key was consumed.
func (l *PebbleLedger) ConsumedAt(key string) (time.Time, bool, error) {
	val, closer, err := l.db.Get([]byte(keyPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read nonce %s: %w", key, err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return time.Time{}, true, fmt.Errorf("read nonce %s: corrupt value", key)
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(val))).UTC(), true, nil
}

func (l *PebbleLedger) has(key string) (bool, error) {
	_, closer, err := l.db.Get([]byte(keyPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read nonce %s: %w", key, err)
	}
	closer.Close()
	return true, nil
}

func (l *PebbleLedger) Close() error {
	return l.db.Close()
}
