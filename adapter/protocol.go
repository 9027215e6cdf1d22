package adapter

import (
	"encoding/binary"
	"errors"
)

// ErrBodyTooShort is returned when a message body is too short for its
// declared type.
var ErrBodyTooShort = errors.New("adapter: body too short")

// RequestBody is MsgRequest's payload: flags, a length-prefixed schema
// string, the requested simulation start time, and the desired publish
// interval.
type RequestBody struct {
	Flags              int32
	Schema             string
	RequestedSimMillis int64
	IntervalMillis     int32
}

// EncodeRequest serializes a RequestBody.
func EncodeRequest(b RequestBody) []byte {
	schema := []byte(b.Schema)
	buf := make([]byte, 4+2+len(schema)+8+4)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(b.Flags))
	off += 4
	binary.BigEndian.PutUint16(buf[off:], uint16(len(schema)))
	off += 2
	copy(buf[off:], schema)
	off += len(schema)
	binary.BigEndian.PutUint64(buf[off:], uint64(b.RequestedSimMillis))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(b.IntervalMillis))
	return buf
}

// DecodeRequest parses a RequestBody.
func DecodeRequest(buf []byte) (RequestBody, error) {
	if len(buf) < 6 {
		return RequestBody{}, ErrBodyTooShort
	}
	flags := int32(binary.BigEndian.Uint32(buf[0:4]))
	schemaLen := int(binary.BigEndian.Uint16(buf[4:6]))
	off := 6
	if len(buf) < off+schemaLen+12 {
		return RequestBody{}, ErrBodyTooShort
	}
	schema := string(buf[off : off+schemaLen])
	off += schemaLen
	simMillis := int64(binary.BigEndian.Uint64(buf[off : off+8]))
	off += 8
	interval := int32(binary.BigEndian.Uint32(buf[off : off+4]))
	return RequestBody{Flags: flags, Schema: schema, RequestedSimMillis: simMillis, IntervalMillis: interval}, nil
}

// AcceptBody is MsgAccept's payload.
type AcceptBody struct {
	ServerFlags      int32
	SimMillis        int64
	IntervalMillis   int32
	AssignedClientID int32
}

// EncodeAccept serializes an AcceptBody.
func EncodeAccept(b AcceptBody) []byte {
	buf := make([]byte, 4+8+4+4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(b.ServerFlags))
	binary.BigEndian.PutUint64(buf[4:12], uint64(b.SimMillis))
	binary.BigEndian.PutUint32(buf[12:16], uint32(b.IntervalMillis))
	binary.BigEndian.PutUint32(buf[16:20], uint32(b.AssignedClientID))
	return buf
}

// DecodeAccept parses an AcceptBody.
func DecodeAccept(buf []byte) (AcceptBody, error) {
	if len(buf) < 20 {
		return AcceptBody{}, ErrBodyTooShort
	}
	return AcceptBody{
		ServerFlags:      int32(binary.BigEndian.Uint32(buf[0:4])),
		SimMillis:        int64(binary.BigEndian.Uint64(buf[4:12])),
		IntervalMillis:   int32(binary.BigEndian.Uint32(buf[12:16])),
		AssignedClientID: int32(binary.BigEndian.Uint32(buf[16:20])),
	}, nil
}

// RejectBody is MsgReject's payload.
type RejectBody struct {
	ReasonCode int32
}

// EncodeReject serializes a RejectBody.
func EncodeReject(b RejectBody) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(b.ReasonCode))
	return buf
}

// DecodeReject parses a RejectBody.
func DecodeReject(buf []byte) (RejectBody, error) {
	if len(buf) < 4 {
		return RejectBody{}, ErrBodyTooShort
	}
	return RejectBody{ReasonCode: int32(binary.BigEndian.Uint32(buf[0:4]))}, nil
}

// Reject reason codes. Any non-zero value means reject; these are the
// codes the core itself produces.
const (
	ReasonSchemaMismatch int32 = 1
	ReasonBadState       int32 = 2
)

// ClientState is one state in the client side of the protocol's
// handshake/session state machine.
type ClientState int

const (
	ClientIdle ClientState = iota
	ClientAwaitingAccept
	ClientConnected
	ClientFailed
	ClientTerminated
)

// ServerState is one state in the server side of the protocol's
// handshake/session state machine. The server is single-client: one
// adapter worker serves exactly one remote peer at a time.
type ServerState int

const (
	ServerIdle ServerState = iota
	ServerConnected
)
