package race

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxDropPolicyDiscardsOldest(t *testing.T) {
	box := newMailbox(1, PolicyDrop, 0)
	require.NoError(t, box.enqueue(Message{Payload: "first"}))
	require.NoError(t, box.enqueue(Message{Payload: "second"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := box.dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", msg.Payload)
}

func TestMailboxTimeoutPolicyDropsNewestAfterWait(t *testing.T) {
	box := newMailbox(1, PolicyTimeout, 10*time.Millisecond)
	require.NoError(t, box.enqueue(Message{Payload: "first"}))
	err := box.enqueue(Message{Payload: "second"})
	assert.ErrorIs(t, err, ErrMailboxFull)
}

func TestMailboxBlockPolicyWaitsForRoom(t *testing.T) {
	box := newMailbox(1, PolicyBlock, 0)
	require.NoError(t, box.enqueue(Message{Payload: "first"}))

	done := make(chan error, 1)
	go func() {
		done <- box.enqueue(Message{Payload: "second"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := box.dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", msg.Payload)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not unblock after room was made")
	}
}

func TestMailboxClosedRejectsFurtherEnqueue(t *testing.T) {
	box := newMailbox(1, PolicyDrop, 0)
	box.close()
	err := box.enqueue(Message{Payload: "x"})
	assert.ErrorIs(t, err, ErrMailboxClosed)

	_, err = box.dequeue(context.Background())
	assert.ErrorIs(t, err, ErrMailboxClosed)
}
