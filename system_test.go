package race

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingWorker is a minimal Worker used to exercise System's admission,
// start/stop, and restart-on-error behavior without any real I/O.
type recordingWorker struct {
	WorkerBase

	mu       sync.Mutex
	handled  []Message
	failNext bool
}

func (w *recordingWorker) Initialize(ctx context.Context, sys *System, cfg WorkerConfig) error {
	w.Init(sys, cfg)
	return nil
}

func (w *recordingWorker) Handle(ctx context.Context, msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failNext {
		w.failNext = false
		return assert.AnError
	}
	w.handled = append(w.handled, msg)
	return nil
}

func (w *recordingWorker) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.handled)
}

func TestAdmitSubscribesReadFromChannels(t *testing.T) {
	sys := NewSystem(nil, time.Now(), 1, RestartPolicy{})
	w := &recordingWorker{}
	err := sys.Admit(context.Background(), w, WorkerConfig{Name: "echo", ReadFrom: []string{"in"}, BufferSize: 8})
	require.NoError(t, err)

	assert.Contains(t, sys.Bus().Subscribers("in"), "echo")
	got, ok := sys.Worker("echo")
	assert.True(t, ok)
	assert.Equal(t, w, got)
}

func TestAdmitRejectsDuplicateName(t *testing.T) {
	sys := NewSystem(nil, time.Now(), 1, RestartPolicy{})
	require.NoError(t, sys.Admit(context.Background(), &recordingWorker{}, WorkerConfig{Name: "dup", BufferSize: 8}))
	err := sys.Admit(context.Background(), &recordingWorker{}, WorkerConfig{Name: "dup", BufferSize: 8})
	assert.ErrorIs(t, err, ErrWorkerNameTaken)
}

func TestStartStopDeliversPublishedMessage(t *testing.T) {
	sys := NewSystem(nil, time.Now(), 1, RestartPolicy{})
	w := &recordingWorker{}
	require.NoError(t, sys.Admit(context.Background(), w, WorkerConfig{Name: "echo", ReadFrom: []string{"in"}, BufferSize: 8}))

	ctx := context.Background()
	require.NoError(t, sys.Start(ctx))

	sys.Bus().Publish("in", "hello", "test")

	require.Eventually(t, func() bool { return w.Count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sys.Stop(ctx))
	assert.Equal(t, Terminated, w.State())
}

func TestStartTwiceFails(t *testing.T) {
	sys := NewSystem(nil, time.Now(), 1, RestartPolicy{})
	ctx := context.Background()
	require.NoError(t, sys.Start(ctx))
	defer sys.Stop(ctx)

	err := sys.Start(ctx)
	assert.ErrorIs(t, err, ErrSystemAlreadyRun)
}

func TestWorkerRestartsAfterHandleErrorUpToMaxAttempts(t *testing.T) {
	sys := NewSystem(nil, time.Now(), 1, RestartPolicy{MaxAttempts: 2, HeartbeatInterval: 0})
	w := &recordingWorker{failNext: true}
	require.NoError(t, sys.Admit(context.Background(), w, WorkerConfig{Name: "flaky", ReadFrom: []string{"in"}, BufferSize: 8}))

	ctx := context.Background()
	require.NoError(t, sys.Start(ctx))
	defer sys.Stop(ctx)

	sys.Bus().Publish("in", "first", "test")  // fails, triggers restart
	sys.Bus().Publish("in", "second", "test") // should be handled normally

	require.Eventually(t, func() bool { return w.Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, Terminated, w.State())
}

func TestResetBaseDateFirstCallerWins(t *testing.T) {
	sys := NewSystem(nil, time.Now(), 1, RestartPolicy{})
	first := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	second := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	sys.ResetBaseDate(first)
	sys.ResetBaseDate(second)

	assert.WithinDuration(t, first, sys.Clock().Now(), 50*time.Millisecond)
}
