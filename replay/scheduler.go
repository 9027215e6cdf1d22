package replay

import (
	"fmt"
	"sync"
	"time"

	"github.com/racecore/race/clock"
)

// DefaultImmediateThreshold is the default window within which an entry's
// firing time is close enough to "now" to publish synchronously instead
// of arming a timer.
const DefaultImmediateThreshold = 30 * time.Millisecond

// Config carries the §6 scheduler options relevant to one replayer.
type Config struct {
	ImmediateThreshold time.Duration // default DefaultImmediateThreshold
	// InitialSkipWindow widens the immediate-vs-timer threshold during the
	// initial positioning pass (Start) only, matching §6's skip-millis:
	// catching up through a long run of already-past history publishes
	// everything within this window synchronously rather than arming a
	// timer per entry. It has no effect once the first real wait is
	// scheduled; normal scheduling then uses ImmediateThreshold only. Zero
	// (or a value no wider than ImmediateThreshold) disables the widening.
	InitialSkipWindow time.Duration
	BreakAfter        int       // default 1000
	MaxSkip           int       // default 1000
	EndTime           time.Time // zero means unbounded
	Flatten           bool
	RebaseDates       bool
	RebaseOffset      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ImmediateThreshold <= 0 {
		c.ImmediateThreshold = DefaultImmediateThreshold
	}
	if c.BreakAfter <= 0 {
		c.BreakAfter = 1000
	}
	if c.MaxSkip <= 0 {
		c.MaxSkip = 1000
	}
	return c
}

// PublishFunc delivers one entry's payload to the Bus. Errors are
// non-fatal per §4.4's failure semantics: logged, scheduling continues.
type PublishFunc func(payload any) error

// Scheduler drives one Reader at the pace dictated by a Clock, preserving
// the date-monotone ordering invariant: at most one entry is ever "in
// flight" (either pending on a timer or actively being published).
type Scheduler struct {
	reader  Reader
	clock   *clock.Clock
	publish PublishFunc
	cfg     Config
	logger  logFunc

	// Defer breaks the immediate-publish recursion after BreakAfter
	// consecutive synchronous publishes so a fast-forward replay cannot
	// starve other work on the owning worker's mailbox. The caller
	// (typically a worker) should post fn as a self-message; the default
	// simply runs fn on a new goroutine.
	Defer func(fn func())

	// Notify, if set, is called for scheduler-level occurrences the
	// owning worker may want to surface as events: one of the Notify*
	// kind constants, with a kind-specific detail map (nil for kinds that
	// carry no extra detail).
	Notify func(kind string, detail map[string]any)

	mu              sync.Mutex
	timer           *time.Timer
	immediateRun    int
	lastDate        time.Time
	noMoreData      bool
	pendingOnResume []Entry
	rebaseDelta     time.Duration
	rebaseComputed  bool
	skipCount       int
	stopped         bool
	initializing    bool
}

// Notify kind constants passed to Scheduler.Notify. Defined here rather
// than as race.EventType* values since this package is a dependency of
// the race package, not the reverse; callers map these onto their own
// event vocabulary.
const (
	NotifyEntrySkipped     = "entry_skipped"
	NotifyMaxSkipExceeded  = "max_skip_exceeded"
	NotifyArchiveExhausted = "archive_exhausted"
	NotifyRebased          = "rebased"
)

func (s *Scheduler) notify(kind string, detail map[string]any) {
	if s.Notify != nil {
		s.Notify(kind, detail)
	}
}

type logFunc func(msg string, args ...any)

// NewScheduler builds a Scheduler over reader, paced by clk, publishing
// through publish. logger may be nil.
func NewScheduler(reader Reader, clk *clock.Clock, publish PublishFunc, cfg Config, logger func(msg string, args ...any)) *Scheduler {
	if logger == nil {
		logger = func(string, ...any) {}
	}
	return &Scheduler{
		reader:  reader,
		clock:   clk,
		publish: publish,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		Defer: func(fn func()) {
			go fn()
		},
	}
}

// rebase applies the configured rebase transform to e.Date, computing the
// delta from the first entry this Scheduler ever sees.
func (s *Scheduler) rebase(e Entry) Entry {
	if !s.cfg.RebaseDates {
		return e
	}
	if !s.rebaseComputed {
		s.rebaseDelta = s.clock.Now().Add(s.cfg.RebaseOffset).Sub(e.Date)
		s.rebaseComputed = true
		s.notify(NotifyRebased, map[string]any{"delta": s.rebaseDelta})
	}
	e.Date = e.Date.Add(s.rebaseDelta)
	return e
}

// Start positions the reader per §4.4 step 1 and begins scheduling.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initializing = true
	return s.advanceLocked()
}

// advanceLocked reads the next entry and either publishes it immediately
// or arms a timer for it; it is the single re-entry point for "normal
// scheduling" (§4.4 step 2) as well as initial positioning (step 1). The
// two differ only in the immediate-publish threshold (see
// Config.InitialSkipWindow); entries dated before the clock's current
// time are published immediately in both, never skipped.
func (s *Scheduler) advanceLocked() error {
	if s.stopped || s.noMoreData {
		return nil
	}

	for {
		entry, ok, err := s.reader.Next()
		if err != nil {
			s.skipCount++
			s.logger("replay: read error, skipping", "error", err, "skipped", s.skipCount)
			s.notify(NotifyEntrySkipped, map[string]any{"reason": "read_error", "skipped": s.skipCount})
			if s.skipCount > s.cfg.MaxSkip {
				s.notify(NotifyMaxSkipExceeded, map[string]any{"skipped": s.skipCount})
				return fmt.Errorf("%w: after %d entries", errMaxSkip, s.skipCount)
			}
			continue
		}
		if !ok {
			s.noMoreData = true
			_ = s.reader.Close()
			s.logger("replay: archive exhausted")
			s.notify(NotifyArchiveExhausted, nil)
			return nil
		}

		entry = s.rebase(entry)

		if !s.cfg.EndTime.IsZero() && entry.Date.After(s.cfg.EndTime) {
			s.noMoreData = true
			_ = s.reader.Close()
			s.logger("replay: end-time reached, stopping without publishing", "date", entry.Date)
			s.notify(NotifyArchiveExhausted, map[string]any{"reason": "end_time"})
			return nil
		}

		if !s.lastDate.IsZero() && entry.Date.Before(s.lastDate) {
			s.logger("replay: ordering violation, dropping entry", "date", entry.Date, "last", s.lastDate)
			s.skipCount++
			s.notify(NotifyEntrySkipped, map[string]any{"reason": "ordering_violation", "skipped": s.skipCount})
			if s.skipCount > s.cfg.MaxSkip {
				s.notify(NotifyMaxSkipExceeded, map[string]any{"skipped": s.skipCount})
				return fmt.Errorf("%w: after %d entries", errMaxSkip, s.skipCount)
			}
			continue
		}

		threshold := s.cfg.ImmediateThreshold
		if s.initializing && s.cfg.InitialSkipWindow > threshold {
			threshold = s.cfg.InitialSkipWindow
		}
		wall := s.clock.SimToWallMillis(entry.Date.Sub(s.clock.Now()))
		if wall > threshold {
			s.initializing = false
			s.armLocked(entry, wall)
			return nil
		}

		s.publishLocked(entry)
		s.immediateRun++
		if s.immediateRun >= s.cfg.BreakAfter {
			s.immediateRun = 0
			s.Defer(func() {
				s.mu.Lock()
				defer s.mu.Unlock()
				_ = s.advanceLocked()
			})
			return nil
		}
		continue
	}
}

func (s *Scheduler) armLocked(entry Entry, wall time.Duration) {
	s.immediateRun = 0
	s.timer = time.AfterFunc(wall, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		if s.clock.Paused() {
			s.pendingOnResume = append(s.pendingOnResume, entry)
			return
		}
		s.publishLocked(entry)
		_ = s.advanceLocked()
	})
}

// publishLocked publishes entry, flattening sequence payloads into
// individual publishes when configured. A publish failure is logged and
// non-fatal.
func (s *Scheduler) publishLocked(entry Entry) {
	s.lastDate = entry.Date
	s.skipCount = 0
	payloads := []any{entry.Payload}
	if s.cfg.Flatten {
		if seq, ok := entry.Payload.([]any); ok {
			payloads = seq
		}
	}
	for _, p := range payloads {
		if err := s.publish(p); err != nil {
			s.logger("replay: publish failed", "error", err)
		}
	}
}

// Pause stops any pending timer from firing a publish; an entry whose
// timer fires while paused is queued onto pendingOnResume instead (see
// armLocked).
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Resume recomputes wall delays for every pending entry against the
// now-advanced wall reference: those within the immediate threshold fire
// in stored order, the rest are re-armed. If nothing was pending, the
// next read is scheduled.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	pending := s.pendingOnResume
	s.pendingOnResume = nil

	for _, entry := range pending {
		wall := s.clock.SimToWallMillis(entry.Date.Sub(s.clock.Now()))
		if wall <= s.cfg.ImmediateThreshold {
			s.publishLocked(entry)
		} else {
			s.armLocked(entry, wall)
			return
		}
	}
	_ = s.advanceLocked()
}

// Stop cancels any pending timer and prevents further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}
