package race

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerBaseLifecycleTransitions(t *testing.T) {
	b := &WorkerBase{}
	b.Init(nil, WorkerConfig{Name: "w", BufferSize: 4})
	assert.Equal(t, Initialized, b.State())

	require.NoError(t, b.Start(context.Background(), "test"))
	assert.Equal(t, Started, b.State())

	require.NoError(t, b.Pause(context.Background()))
	assert.Equal(t, Paused, b.State())

	require.NoError(t, b.Resume(context.Background()))
	assert.Equal(t, Started, b.State())

	require.NoError(t, b.Terminate(context.Background(), "test"))
	assert.Equal(t, Terminated, b.State())

	// Idempotent.
	require.NoError(t, b.Terminate(context.Background(), "test"))
}

func TestWorkerBaseDeliverAndReceive(t *testing.T) {
	b := &WorkerBase{}
	b.Init(nil, WorkerConfig{Name: "w", BufferSize: 4})

	require.NoError(t, b.Deliver(Message{Payload: "hi"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Payload)
}

func TestWorkerBasePublishNoopWithoutSystem(t *testing.T) {
	b := &WorkerBase{}
	b.Init(nil, WorkerConfig{Name: "w", BufferSize: 4})
	assert.NotPanics(t, func() { b.Publish("out", "x") })
}

func TestWorkerBasePublishesThroughSystem(t *testing.T) {
	sys := NewSystem(nil, time.Now(), 1, RestartPolicy{})
	b := &WorkerBase{}
	b.Init(sys, WorkerConfig{Name: "w", BufferSize: 4})

	received := make(chan Message, 1)
	sys.Bus().Subscribe("out", "sink", recorderSubscriber(func(msg Message) error {
		received <- msg
		return nil
	}))

	b.Publish("out", "payload")

	select {
	case msg := <-received:
		assert.Equal(t, "payload", msg.Payload)
		assert.Equal(t, "w", msg.Originator)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

type recorderSubscriber func(Message) error

func (f recorderSubscriber) Deliver(msg Message) error { return f(msg) }
