package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidArgument is returned when a required parameter is missing or
// unusable. It signals a programming error, not a transient condition.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidArgument(name, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidArgument, name, reason)
}

// detacher is the non-owning link from a Limiter back to the table that
// holds it.
type detacher interface {
	detach(l *Limiter) bool
}

// Limiter lets an action through at most once per cooldown.
// A Limiter is safe for concurrent use.
type Limiter struct {
	cooldown time.Duration
	now      func() time.Time
	owner    detacher

	mu          sync.Mutex
	fired       bool
	lastAllowed time.Time
}

func newLimiter(cooldown time.Duration, now func() time.Time, owner detacher) *Limiter {
	return &Limiter{
		cooldown: cooldown,
		now:      now,
		owner:    owner,
	}
}

// Cooldown returns the interval fixed when the limiter was created.
func (l *Limiter) Cooldown() time.Duration { return l.cooldown }

// TryAcquire reports whether the caller may proceed now. A true result
// restarts the cooldown.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquireLocked()
}

// TryAcquireAndRun runs action if TryAcquire would have returned true. The
// action runs while the limiter is held, so no other acquire on this limiter
// is evaluated until it returns. The acquire stays committed if action panics.
func (l *Limiter) TryAcquireAndRun(action func()) (bool, error) {
	if action == nil {
		return false, invalidArgument("action", "is nil")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.acquireLocked() {
		return false, nil
	}
	action()
	return true, nil
}

// Remaining returns how long until the next acquire would succeed.
func (l *Limiter) Remaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.fired {
		return 0
	}
	left := l.cooldown - l.now().Sub(l.lastAllowed)
	if left < 0 {
		return 0
	}
	return left
}

// Detach removes the limiter from the registry table that created it. It
// returns true only for the call that actually removed it. A detached
// limiter keeps working for callers still holding it.
func (l *Limiter) Detach() bool {
	if l == nil || l.owner == nil {
		return false
	}
	return l.owner.detach(l)
}

func (l *Limiter) acquireLocked() bool {
	now := l.now()
	if l.fired && now.Sub(l.lastAllowed) < l.cooldown {
		return false
	}
	l.fired = true
	l.lastAllowed = now
	return true
}
