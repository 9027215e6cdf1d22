package race

import (
	"context"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyObserversFiltersByEventType(t *testing.T) {
	sys := NewSystem(nil, time.Now(), 1, RestartPolicy{})

	var gotWorker, gotSystem int
	obsWorker := NewFunctionalObserver("worker-watcher", func(ctx context.Context, event cloudevents.Event) error {
		gotWorker++
		return nil
	})
	obsSystem := NewFunctionalObserver("system-watcher", func(ctx context.Context, event cloudevents.Event) error {
		gotSystem++
		return nil
	})
	require.NoError(t, sys.RegisterObserver(obsWorker, EventTypeWorkerInitialized))
	require.NoError(t, sys.RegisterObserver(obsSystem, EventTypeSystemStarted))

	ctx := WithSynchronousNotification(context.Background())
	require.NoError(t, sys.Admit(ctx, &recordingWorker{}, WorkerConfig{Name: "w", BufferSize: 4}))

	assert.Equal(t, 1, gotWorker)
	assert.Equal(t, 0, gotSystem)
}

func TestUnregisterObserverStopsDelivery(t *testing.T) {
	sys := NewSystem(nil, time.Now(), 1, RestartPolicy{})
	var got int
	obs := NewFunctionalObserver("w", func(ctx context.Context, event cloudevents.Event) error {
		got++
		return nil
	})
	require.NoError(t, sys.RegisterObserver(obs))
	require.NoError(t, sys.UnregisterObserver(obs))

	ctx := WithSynchronousNotification(context.Background())
	require.NoError(t, sys.Admit(ctx, &recordingWorker{}, WorkerConfig{Name: "w", BufferSize: 4}))
	assert.Equal(t, 0, got)
}

func TestNewWorkerLifecycleEventSetsTypeFromAction(t *testing.T) {
	evt := NewWorkerLifecycleEvent("race.system", "w1", "replay", "initialized", "", 0)
	assert.Equal(t, EventTypeWorkerInitialized, evt.Type())
	assert.NoError(t, ValidateCloudEvent(evt))
}
