package systray

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Readiness is a one-shot gate between a [Watcher] and the hosts that depend
// on it. The watcher completes it once it owns its bus name and has exported
// its objects; hosts wait on it before querying the watcher.
//
// A Readiness never becomes unready again.
type Readiness struct {
	once   sync.Once
	done   chan struct{}
	settle time.Duration
}

// NewReadiness returns an incomplete [Readiness].
//
// Parameter settle is an extra delay applied by [Readiness.Wait] after the gate
// is complete. Ownership of a name is not guaranteed to be visible to other
// connections the moment RequestName returns, the delay absorbs that. Zero
// disables it.
func NewReadiness(settle time.Duration) *Readiness {
	return &Readiness{
		done:   make(chan struct{}),
		settle: settle,
	}
}

// markReady completes the gate. Subsequent calls have no effect.
func (r *Readiness) markReady() {
	r.once.Do(func() {
		close(r.done)
	})
}

// Done returns a channel that is closed when the gate is complete.
func (r *Readiness) Done() <-chan struct{} {
	return r.done
}

// IsReady reports whether the gate is complete.
func (r *Readiness) IsReady() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate is complete, ctx is done, or timeout elapses.
// A non-positive timeout waits without bound.
func (r *Readiness) Wait(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWatcherNotReady, ctx.Err())
	}

	if r.settle <= 0 {
		return nil
	}

	timer := time.NewTimer(r.settle)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWatcherNotReady, ctx.Err())
	}
}
