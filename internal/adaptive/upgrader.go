package adaptive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Work re-translates a block. It returns apply, which installs the result;
// apply is only called if the upgrade was not cancelled in the meantime.
type Work func(ctx context.Context) (apply func(), err error)

type UpgradeStats struct {
	Scheduled int64
	Applied   int64
	Cancelled int64
	Failed    int64
}

type job struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Upgrader runs re-translations in the background, at most one per key.
// Readers of the previous translation are never blocked by an upgrade.
type Upgrader[K comparable] struct {
	log *slog.Logger

	mu      sync.Mutex
	pending map[K]*job
	closed  bool
	wg      sync.WaitGroup

	scheduled atomic.Int64
	applied   atomic.Int64
	cancelled atomic.Int64
	failed    atomic.Int64
}

// NewUpgrader returns an upgrader logging to log, or to slog.Default when
// log is nil.
func NewUpgrader[K comparable](log *slog.Logger) *Upgrader[K] {
	if log == nil {
		log = slog.Default()
	}
	return &Upgrader[K]{log: log, pending: make(map[K]*job)}
}

// Schedule starts work for key. It returns false if an upgrade of key is
// already pending or the upgrader is closed.
func (u *Upgrader[K]) Schedule(key K, work Work) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return false
	}
	if _, ok := u.pending[key]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{ctx: ctx, cancel: cancel}
	u.pending[key] = j
	u.scheduled.Add(1)

	u.wg.Add(1)
	go u.run(key, j, work)
	return true
}

func (u *Upgrader[K]) run(key K, j *job, work Work) {
	defer u.wg.Done()
	defer j.cancel()

	apply, err := work(j.ctx)

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.pending[key] == j {
		delete(u.pending, key)
	}

	switch {
	case j.ctx.Err() != nil || errors.Is(err, context.Canceled):
		u.cancelled.Add(1)
		u.log.Debug("upgrade cancelled", "key", key)
	case err != nil:
		u.failed.Add(1)
		u.log.Warn("upgrade failed", "key", key, "err", err)
	default:
		// Cancel holds mu, so a cancel either lands before this check or
		// after the new translation is installed.
		if apply != nil {
			apply()
		}
		u.applied.Add(1)
	}
}

// Cancel aborts a pending upgrade of key. It reports whether one was
// pending.
func (u *Upgrader[K]) Cancel(key K) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	j, ok := u.pending[key]
	if !ok {
		return false
	}
	j.cancel()
	delete(u.pending, key)
	return true
}

// Pending reports whether an upgrade of key is in flight.
func (u *Upgrader[K]) Pending(key K) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.pending[key]
	return ok
}

// Wait blocks until every scheduled upgrade has finished.
func (u *Upgrader[K]) Wait() { u.wg.Wait() }

// Close cancels all pending upgrades and waits for them to return. Later
// calls to Schedule are refused.
func (u *Upgrader[K]) Close() error {
	u.mu.Lock()
	u.closed = true
	for key, j := range u.pending {
		j.cancel()
		delete(u.pending, key)
	}
	u.mu.Unlock()

	u.wg.Wait()
	return nil
}

func (u *Upgrader[K]) Stats() UpgradeStats {
	return UpgradeStats{
		Scheduled: u.scheduled.Load(),
		Applied:   u.applied.Load(),
		Cancelled: u.cancelled.Load(),
		Failed:    u.failed.Load(),
	}
}
