package events

import (
	"context"
	"log/slog"
)

// Sink delivers events somewhere.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Dispatcher is an asynchronous Publisher that forwards events to sinks in
// publish order from a single Run goroutine.
//
// Thread-safety model:
//   - Publish(): safe from any goroutine, never blocks
//   - Run(): must be called from exactly one goroutine
type Dispatcher struct {
	queue  *eventQueue
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over sinks.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: newEventQueue(), sinks: sinks, logger: logger}
}

// Publish enqueues e. Events published after Close are dropped.
func (d *Dispatcher) Publish(e Event) {
	if !d.queue.Enqueue(e) {
		d.logger.Warn("event dropped after dispatcher close", "event", string(e.Event))
	}
}

// Run delivers events until ctx is cancelled or Close is called, then
// flushes what is still queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		d.deliver(ctx, d.queue.Drain())

		select {
		case <-ctx.Done():
			d.queue.Close()
			d.deliver(context.WithoutCancel(ctx), d.queue.Drain())
			return nil
		case _, ok := <-d.queue.Wait():
			if !ok {
				d.deliver(ctx, d.queue.Drain())
				return nil
			}
		}
	}
}

// Close stops accepting events; Run returns after flushing.
func (d *Dispatcher) Close() {
	d.queue.Close()
}

// Pending returns the number of undelivered events.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

func (d *Dispatcher) deliver(ctx context.Context, batch []Event) {
	for _, e := range batch {
		for _, s := range d.sinks {
			if err := s.Write(ctx, e); err != nil {
				// Sink failures never propagate to auction callers.
				d.logger.Warn("event sink failed", "event", string(e.Event), "error", err)
			}
		}
	}
}
