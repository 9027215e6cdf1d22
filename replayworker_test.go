package race

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racecore/race/raceconfig"
)

// writeArchive writes one JSON-line archive entry per (offset, payload)
// pair, dated base+offset.
func writeArchive(t *testing.T, base time.Time, offsets []time.Duration, payloads []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for i, off := range offsets {
		date := base.Add(off)
		_, err := fmt.Fprintf(f, `{"date":%q,"payload":%q}`+"\n", date.Format(time.RFC3339Nano), payloads[i])
		require.NoError(t, err)
	}
	return path
}

func writeDoc(t *testing.T, base time.Time, archivePath string, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "system.yaml")
	body := fmt.Sprintf(`
system:
  base-date: %q
  time-scale: 1
workers:
  - name: replayer
    class: replay
    write-to: [out]
    archive-path: %q
%s
`, base.Format(time.RFC3339Nano), archivePath, extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestReplayWorkerScenario1DeliveryTiming exercises §8 scenario 1 end to
// end through raceconfig and ReplayWorker.Initialize: three entries one
// second apart, starting exactly at the clock's base date, must be
// delivered at wall-clock offsets of 0, ~1s, ~2s. This only holds if
// ImmediateThreshold stays at its 30ms default rather than being widened
// by skip-millis's default 1000ms, which would previously cause every
// entry to publish immediately instead of waiting out the real gap.
func TestReplayWorkerScenario1DeliveryTiming(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	archive := writeArchive(t, base,
		[]time.Duration{0, time.Second, 2 * time.Second},
		[]string{"a", "b", "c"})
	docPath := writeDoc(t, base, archive, "")

	doc, err := raceconfig.LoadDocument(docPath)
	require.NoError(t, err)
	require.Len(t, doc.Workers, 1)
	cfg := doc.Workers[0]
	require.Equal(t, 1000, cfg.SkipMillis, "raceconfig default for skip-millis")

	sys := NewSystem(nil, doc.System.BaseDate, doc.System.TimeScale, RestartPolicy{})

	type stamped struct {
		payload any
		at      time.Time
	}
	received := make(chan stamped, 8)
	sys.Bus().Subscribe("out", "sink", recorderSubscriber(func(msg Message) error {
		received <- stamped{payload: msg.Payload, at: time.Now()}
		return nil
	}))

	w := &ReplayWorker{}
	ctx := context.Background()
	require.NoError(t, sys.Admit(ctx, w, cfg))
	assert.Zero(t, w.rcfg.ImmediateThreshold, "ImmediateThreshold must be left at its replay.DefaultImmediateThreshold zero value, not overwritten by skip-millis")

	start := time.Now()
	require.NoError(t, sys.Start(ctx))
	defer func() { _ = w.Terminate(ctx, "test") }()

	var got []stamped
	for i := 0; i < 3; i++ {
		select {
		case s := <-received:
			got = append(got, s)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for entry %d", i)
		}
	}

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].payload)
	assert.Equal(t, "b", got[1].payload)
	assert.Equal(t, "c", got[2].payload)

	assert.InDelta(t, 0, got[0].at.Sub(start).Milliseconds(), 30)
	assert.InDelta(t, 1000, got[1].at.Sub(start).Milliseconds(), 150)
	assert.InDelta(t, 2000, got[2].at.Sub(start).Milliseconds(), 150)
}

// TestReplayWorkerWatchDirAdvancesArchive exercises the watch-dir wiring:
// once the configured archive is exhausted, a file dropped into the
// watched directory is picked up and scheduled without restarting the
// worker.
func TestReplayWorkerWatchDirAdvancesArchive(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first := writeArchive(t, base, []time.Duration{0}, []string{"first"})
	watchDir := t.TempDir()
	docPath := writeDoc(t, base, first, fmt.Sprintf("    watch-dir: %q\n", watchDir))

	doc, err := raceconfig.LoadDocument(docPath)
	require.NoError(t, err)
	cfg := doc.Workers[0]

	sys := NewSystem(nil, doc.System.BaseDate, doc.System.TimeScale, RestartPolicy{})
	received := make(chan any, 8)
	sys.Bus().Subscribe("out", "sink", recorderSubscriber(func(msg Message) error {
		received <- msg.Payload
		return nil
	}))

	w := &ReplayWorker{}
	ctx := context.Background()
	require.NoError(t, sys.Admit(ctx, w, cfg))
	require.NotNil(t, w.watcher)

	require.NoError(t, sys.Start(ctx))
	defer func() { _ = w.Terminate(ctx, "test") }()

	select {
	case p := <-received:
		assert.Equal(t, "first", p)
	case <-time.After(2 * time.Second):
		t.Fatal("first archive entry not delivered")
	}

	second := filepath.Join(watchDir, "second.jsonl")
	require.NoError(t, os.WriteFile(second, []byte(
		fmt.Sprintf(`{"date":%q,"payload":"second"}`+"\n", base.Format(time.RFC3339Nano)),
	), 0o600))

	select {
	case p := <-received:
		assert.Equal(t, "second", p)
	case <-time.After(3 * time.Second):
		t.Fatal("watched archive entry not delivered")
	}
}
