package replay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racecore/race/clock"
)

// sliceReader is a Reader over an in-memory slice, for deterministic
// tests.
type sliceReader struct {
	entries []Entry
	i       int
}

func (r *sliceReader) Next() (Entry, bool, error) {
	if r.i >= len(r.entries) {
		return Entry{}, false, nil
	}
	e := r.entries[r.i]
	r.i++
	return e, true, nil
}

func (r *sliceReader) Close() error { return nil }

type collector struct {
	mu   sync.Mutex
	got  []any
	done chan struct{}
	want int
}

func newCollector(want int) *collector {
	return &collector{done: make(chan struct{}), want: want}
}

func (c *collector) publish(p any) error {
	c.mu.Lock()
	c.got = append(c.got, p)
	n := len(c.got)
	c.mu.Unlock()
	if n == c.want {
		close(c.done)
	}
	return nil
}

func (c *collector) snapshot() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.got))
	copy(out, c.got)
	return out
}

// TestReplayMonotonicity covers §8 scenario 1: entries at T+0, T+1s, T+2s
// at scale=1 starting at T+0 must all be delivered, date-monotone, near
// their wall-clock offsets.
func TestReplayMonotonicity(t *testing.T) {
	start := time.Now()
	reader := &sliceReader{entries: []Entry{
		{Date: start, Payload: "a"},
		{Date: start.Add(1 * time.Second), Payload: "b"},
		{Date: start.Add(2 * time.Second), Payload: "c"},
	}}
	c := clock.New(start, 1)
	col := newCollector(3)
	sched := NewScheduler(reader, c, col.publish, Config{}, nil)

	require.NoError(t, sched.Start())

	select {
	case <-col.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for all entries")
	}

	got := col.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, []any{"a", "b", "c"}, got)
}

// TestRebase covers §8 scenario 2: the first entry a Scheduler ever sees
// is shifted onto the clock's current time (plus RebaseOffset), and every
// later entry carries forward the same delta, preserving the original
// archive's inter-entry spacing exactly.
func TestRebase(t *testing.T) {
	archiveBase := time.Date(2020, 8, 19, 10, 0, 0, 0, time.UTC)
	clockStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.New(clockStart, 1)
	reader := &sliceReader{}
	sched := NewScheduler(reader, c, func(any) error { return nil }, Config{RebaseDates: true}, nil)

	src := Entry{Date: archiveBase, Payload: 0}
	before := c.Now()
	first := sched.rebase(src)
	after := c.Now()
	second := sched.rebase(Entry{Date: archiveBase.Add(time.Minute), Payload: 1})
	third := sched.rebase(Entry{Date: archiveBase.Add(2 * time.Minute), Payload: 2})

	assert.False(t, first.Date.Before(before) || first.Date.After(after), "first entry rebases onto the clock's current time")
	assert.Equal(t, time.Minute, second.Date.Sub(first.Date), "spacing between entries is preserved")
	assert.Equal(t, time.Minute, third.Date.Sub(second.Date), "spacing between entries is preserved")
	assert.Equal(t, archiveBase, src.Date, "rebase must not mutate the source archive")
}

// TestRebaseWithOffset covers the RebaseOffset knob: the first entry lands
// RebaseOffset after the clock's current time rather than exactly on it.
func TestRebaseWithOffset(t *testing.T) {
	archiveBase := time.Date(2020, 8, 19, 10, 0, 0, 0, time.UTC)
	clockStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.New(clockStart, 1)
	reader := &sliceReader{}
	sched := NewScheduler(reader, c, func(any) error { return nil }, Config{RebaseDates: true, RebaseOffset: 5 * time.Minute}, nil)

	before := c.Now()
	first := sched.rebase(Entry{Date: archiveBase, Payload: 0})
	after := c.Now()
	assert.False(t, first.Date.Before(before.Add(5*time.Minute)) || first.Date.After(after.Add(5*time.Minute)))
}

// TestBreakAfterDefersInsteadOfRecursing covers the break-after boundary:
// BreakAfter consecutive immediate publishes must hand the next read to
// Defer rather than recursing forever.
func TestBreakAfterDefersInsteadOfRecursing(t *testing.T) {
	start := time.Now()
	entries := make([]Entry, 10)
	for i := range entries {
		entries[i] = Entry{Date: start, Payload: i}
	}
	reader := &sliceReader{entries: entries}
	c := clock.New(start, 1)
	col := newCollector(10)
	sched := NewScheduler(reader, c, col.publish, Config{BreakAfter: 3, ImmediateThreshold: time.Hour}, nil)
	deferCount := 0
	var mu sync.Mutex
	sched.Defer = func(fn func()) {
		mu.Lock()
		deferCount++
		mu.Unlock()
		go fn()
	}

	require.NoError(t, sched.Start())
	select {
	case <-col.done:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	assert.Greater(t, deferCount, 0, "break-after must trigger at least one deferred continuation")
}

// TestEndTimeStopsWithoutPublishing covers the end-time boundary.
func TestEndTimeStopsWithoutPublishing(t *testing.T) {
	start := time.Now()
	reader := &sliceReader{entries: []Entry{
		{Date: start, Payload: "in"},
		{Date: start.Add(time.Hour), Payload: "out"},
	}}
	c := clock.New(start, 1)
	col := newCollector(1)
	sched := NewScheduler(reader, c, col.publish, Config{EndTime: start.Add(time.Minute), ImmediateThreshold: time.Hour}, nil)
	require.NoError(t, sched.Start())

	select {
	case <-col.done:
	case <-time.After(500 * time.Millisecond):
	}
	assert.Equal(t, []any{"in"}, col.snapshot())
}

// TestMaxSkipExceededFailsStart covers the max-skip+1 boundary.
func TestMaxSkipExceededFailsStart(t *testing.T) {
	start := time.Now()
	// every entry is ordered before lastDate after the first publish,
	// triggering repeated ordering-violation skips.
	entries := []Entry{{Date: start, Payload: "first"}}
	for i := 0; i < 5; i++ {
		entries = append(entries, Entry{Date: start.Add(-time.Second), Payload: i})
	}
	reader := &sliceReader{entries: entries}
	c := clock.New(start, 1)
	sched := NewScheduler(reader, c, func(any) error { return nil }, Config{MaxSkip: 2, ImmediateThreshold: time.Hour}, nil)
	err := sched.Start()
	assert.ErrorIs(t, err, ErrMaxSkipExceeded)
}
