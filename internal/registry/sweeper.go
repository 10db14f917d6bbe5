package registry

import "context"

// StartSweeper arms the periodic liveness sweep on the registry's clock.
// Each run evicts stale solvers and re-arms itself. Calling it while a
// sweep is already armed is a no-op.
func (r *Registry) StartSweeper() {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	if r.sweeping {
		return
	}
	r.sweeping = true
	r.armLocked()
}

// StopSweeper cancels the pending sweep.
func (r *Registry) StopSweeper() {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	r.sweeping = false
	if r.sweepTimer != nil {
		r.sweepTimer.Stop()
		r.sweepTimer = nil
	}
}

// Run sweeps until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	r.StartSweeper()
	<-ctx.Done()
	r.StopSweeper()
	return nil
}

func (r *Registry) armLocked() {
	r.sweepTimer = r.clock.AfterFunc(r.sweepInterval, r.sweep)
}

func (r *Registry) sweep() {
	r.EvictStale(r.clock.Now(), r.heartbeatTimeout)

	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	if r.sweeping {
		r.armLocked()
	}
}
