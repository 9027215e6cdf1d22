// Package clock implements the simulation clock shared by every worker:
// a scaled, pausable notion of time derived from a base date, a wall-clock
// origin, and a scale factor.
package clock

import (
	"sync"
	"time"
)

// Clock holds baseDate (simulation epoch), startWall (wall-clock origin),
// scale (>0), and paused state. While running,
//
//	now() = baseDate + (wallNow - startWall) * scale
//
// While paused, now() is frozen at the instant pause() was called; on
// resume, startWall is shifted forward by the elapsed pause duration so
// there is no jump in now().
type Clock struct {
	mu sync.RWMutex

	baseDate time.Time
	startWall time.Time
	scale    float64

	paused    bool
	pausedAt  time.Time
	frozenNow time.Time

	adjustable bool
}

// New returns a Clock starting at baseDate with the given scale, running
// (not paused), with its wall-clock origin set to the current instant.
// Scale must be > 0; a non-positive scale is coerced to 1.
func New(baseDate time.Time, scale float64) *Clock {
	if scale <= 0 {
		scale = 1
	}
	return &Clock{
		baseDate:   baseDate,
		startWall:  time.Now(),
		scale:      scale,
		adjustable: true,
	}
}

// Now returns the current simulation time. Monotone non-decreasing while
// running; frozen while paused.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.paused {
		return c.frozenNow
	}
	elapsed := time.Since(c.startWall)
	return c.baseDate.Add(time.Duration(float64(elapsed) * c.scale))
}

// SimToWallMillis converts a simulation-time duration to the equivalent
// wall-clock duration at the current scale.
func (c *Clock) SimToWallMillis(d time.Duration) time.Duration {
	c.mu.RLock()
	scale := c.scale
	c.mu.RUnlock()
	return time.Duration(float64(d) / scale)
}

// WallToSimMillis converts a wall-clock duration to simulation time at the
// current scale.
func (c *Clock) WallToSimMillis(d time.Duration) time.Duration {
	c.mu.RLock()
	scale := c.scale
	c.mu.RUnlock()
	return time.Duration(float64(d) * scale)
}

// Pause freezes Now() at its current value. Calling Pause while already
// paused is a no-op.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	elapsed := time.Since(c.startWall)
	c.frozenNow = c.baseDate.Add(time.Duration(float64(elapsed) * c.scale))
	c.pausedAt = time.Now()
	c.paused = true
}

// Resume unfreezes the clock. The wall reference is shifted forward by the
// time spent paused, so Now() immediately after Resume equals Now() at the
// moment Pause was called — no jump.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	pausedFor := time.Since(c.pausedAt)
	c.startWall = c.startWall.Add(pausedFor)
	c.paused = false
}

// Paused reports whether the clock is currently paused.
func (c *Clock) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// SetBase rebases the clock's simulation epoch to date without moving the
// wall-clock origin, preserving elapsed-time deltas already accrued. It
// may be called only while the clock is adjustable (see SetAdjustable);
// otherwise it is a no-op and returns false.
func (c *Clock) SetBase(date time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.adjustable {
		return false
	}
	c.baseDate = date
	if c.paused {
		c.frozenNow = date.Add(time.Duration(float64(c.pausedAt.Sub(c.startWall)) * c.scale))
	}
	return true
}

// SetScale changes the scale factor. Like SetBase, only permitted while
// adjustable.
func (c *Clock) SetScale(r float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.adjustable || r <= 0 {
		return false
	}
	// Re-anchor so Now() doesn't jump at the instant of the scale change.
	elapsed := time.Since(c.startWall)
	anchored := c.baseDate.Add(time.Duration(float64(elapsed) * c.scale))
	c.baseDate = anchored
	c.startWall = time.Now()
	c.scale = r
	return true
}

// SetAdjustable toggles whether SetBase/SetScale are permitted. A new
// Clock starts adjustable; the System never changes the flag.
func (c *Clock) SetAdjustable(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adjustable = v
}
