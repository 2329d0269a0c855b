package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTierDown wraps every failed tier operation.
var ErrTierDown = errors.New("memory: tier down")

// tierState is a small circuit breaker around one tier. The first use
// pings the tier; a failed operation opens the breaker until interval has
// passed, after which the next caller pings again.
type tierState struct {
	name     string
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
	ping     func(ctx context.Context) error

	mu        sync.Mutex
	checked   bool
	up        bool
	nextCheck time.Time
}

func newTierState(name string, ping func(context.Context) error, cfg Config, logger *zap.Logger) *tierState {
	return &tierState{
		name:     name,
		timeout:  cfg.TierTimeout,
		interval: cfg.RetryInterval,
		now:      cfg.Now,
		logger:   logger,
		ping:     ping,
	}
}

// usable reports whether callers should try the tier now. It may ping; the
// lock is released before the network call. A caller whose context is done
// neither pings nor changes the tier's state.
func (t *tierState) usable(ctx context.Context) bool {
	if t == nil || ctx.Err() != nil {
		return false
	}
	t.mu.Lock()
	if t.up {
		t.mu.Unlock()
		return true
	}
	now := t.now()
	if t.checked && now.Before(t.nextCheck) {
		t.mu.Unlock()
		return false
	}
	// claim this recheck window so concurrent callers skip the tier meanwhile
	wasChecked, prevCheck := t.checked, t.nextCheck
	t.checked = true
	t.nextCheck = now.Add(t.interval)
	t.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, t.timeout)
	err := t.ping(pctx)
	cancel()
	if err != nil && ctx.Err() != nil {
		// the caller went away; give the window back
		t.mu.Lock()
		if t.nextCheck.Equal(now.Add(t.interval)) {
			t.checked, t.nextCheck = wasChecked, prevCheck
		}
		t.mu.Unlock()
		return false
	}
	if err != nil {
		t.logger.Warn("memory tier recheck failed",
			zap.String("tier", t.name),
			zap.Duration("retry_in", t.interval),
			zap.Error(err))
		return false
	}
	t.markUp()
	return true
}

func (t *tierState) markUp() {
	t.mu.Lock()
	wasUp := t.up
	t.up = true
	t.mu.Unlock()
	if !wasUp {
		t.logger.Info("memory tier up", zap.String("tier", t.name))
	}
}

// fail records a failed operation and opens the breaker.
func (t *tierState) fail(op string, err error) {
	t.mu.Lock()
	wasUp := t.up
	t.up = false
	t.checked = true
	t.nextCheck = t.now().Add(t.interval)
	t.mu.Unlock()

	err = fmt.Errorf("%w: %s %s: %w", ErrTierDown, t.name, op, err)
	if wasUp {
		t.logger.Warn("memory tier marked down", zap.String("tier", t.name), zap.Error(err))
		return
	}
	t.logger.Debug("memory tier operation failed", zap.String("tier", t.name), zap.Error(err))
}

// status is "up", "down" or "unknown" without probing.
func (t *tierState) status() string {
	if t == nil {
		return "absent"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.up:
		return "up"
	case t.checked:
		return "down"
	default:
		return "unknown"
	}
}

// run executes op under the per-operation timeout and updates the breaker.
// Failures caused by the caller's own cancellation leave the breaker alone;
// the per-operation timeout still counts as a tier failure.
func (t *tierState) run(ctx context.Context, name string, op func(ctx context.Context) error) bool {
	octx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := op(octx); err != nil {
		if ctx.Err() != nil {
			t.logger.Debug("memory tier operation abandoned by caller",
				zap.String("tier", t.name), zap.String("op", name), zap.Error(err))
			return false
		}
		t.fail(name, err)
		return false
	}
	return true
}
