package adapter

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAdapterHandshake covers §8 scenario 4: a matching-schema Request is
// accepted with a server-assigned client ID, and a subsequent Data frame
// must carry that ID or be dropped.
func TestAdapterHandshake(t *testing.T) {
	server, err := NewSession(Config{OwnIP: "127.0.0.1", OwnPort: 0, RemoteIP: "127.0.0.1", RemotePort: 0, Schema: "X"})
	require.NoError(t, err)
	defer server.Close()

	reqBody := EncodeRequest(RequestBody{Schema: "X", RequestedSimMillis: 0, IntervalMillis: 1000})
	frame := Frame{Header: Header{MsgType: MsgRequest, SenderID: 99}, Body: reqBody}

	local := server.conn.LocalAddr().(*net.UDPAddr)
	err = server.HandleRequest(frame, local, 7)
	require.NoError(t, err)
	assert.True(t, server.Connected())
	assert.Equal(t, int32(7), server.remoteID)
	assert.Equal(t, int32(7), server.localID)

	good := Frame{Header: Header{MsgType: MsgData, SenderID: 7, EpochMillis: 10}}
	assert.NoError(t, server.Validate(good, local))

	bad := Frame{Header: Header{MsgType: MsgData, SenderID: 8, EpochMillis: 10}}
	assert.ErrorIs(t, server.Validate(bad, local), ErrBadSender)
}

// TestSchemaMismatchReject covers §8 scenario 5.
func TestSchemaMismatchReject(t *testing.T) {
	server, err := NewSession(Config{OwnIP: "127.0.0.1", OwnPort: 0, RemoteIP: "127.0.0.1", RemotePort: 0, Schema: "X"})
	require.NoError(t, err)
	defer server.Close()

	reqBody := EncodeRequest(RequestBody{Schema: "Y", RequestedSimMillis: 0, IntervalMillis: 1000})
	frame := Frame{Header: Header{MsgType: MsgRequest, SenderID: 99}, Body: reqBody}

	err = server.HandleRequest(frame, server.ownAddr, 7)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.False(t, server.Connected())
	assert.Equal(t, ServerIdle, server.serverState)
}

// TestDataOrderingViolationDropped covers the adapter ordering invariant:
// a Data frame whose epochMillis is older than the last accepted one is
// discarded, not buffered.
func TestDataOrderingViolationDropped(t *testing.T) {
	s, err := NewSession(Config{OwnIP: "127.0.0.1", OwnPort: 0, RemoteIP: "127.0.0.1", RemotePort: 0, Schema: "X"})
	require.NoError(t, err)
	defer s.Close()

	var got []any
	s.OnData = func(p any) { got = append(got, p) }
	s.Reader = func(body []byte) (any, error) { return string(body), nil }

	require.NoError(t, s.HandleData(Frame{Header: Header{EpochMillis: 10}, Body: []byte("a")}))
	require.NoError(t, s.HandleData(Frame{Header: Header{EpochMillis: 20}, Body: []byte("b")}))

	err = s.HandleData(Frame{Header: Header{EpochMillis: 15}, Body: []byte("stale")})
	assert.ErrorIs(t, err, ErrOrderingViolation)

	assert.Equal(t, []any{"a", "b"}, got)
}
