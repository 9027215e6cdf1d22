package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{MsgType: MsgData, MsgLen: 0, SenderID: 7, EpochMillis: 1234567890}
	buf := make([]byte, HeaderLen)
	EncodeHeader(buf, h)
	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestFrameRoundTripArbitraryBody(t *testing.T) {
	body := make([]byte, 1008)
	for i := range body {
		body[i] = byte(i % 256)
	}
	f := Frame{Header: Header{MsgType: MsgData, SenderID: 42, EpochMillis: 99}, Body: body}
	buf, err := Encode(f)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, f.Header, got.Header)
	assert.Equal(t, f.Body, got.Body)
}

func TestDecodeHeaderTooShort(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 4))
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestEncodeTooLong(t *testing.T) {
	_, err := Encode(Frame{Body: make([]byte, MaxDatagram)})
	assert.ErrorIs(t, err, ErrFrameTooLong)
}

func TestRequestBodyRoundTrip(t *testing.T) {
	b := RequestBody{Flags: 1, Schema: "X", RequestedSimMillis: 1000, IntervalMillis: 1000}
	got, err := DecodeRequest(EncodeRequest(b))
	require.NoError(t, err)
	assert.Equal(t, b, got)
}
