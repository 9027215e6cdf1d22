// Package adapter implements the external-process UDP adapter protocol
// (§4.5): a symmetric client/server handshake and typed Data exchange with
// programs written in other languages.
package adapter

import (
	"encoding/binary"
	"errors"
)

// MsgType identifies the kind of frame on the wire.
type MsgType uint16

const (
	MsgRequest MsgType = 1
	MsgAccept  MsgType = 2
	MsgReject  MsgType = 3
	MsgData    MsgType = 4
	MsgStop    MsgType = 5
	MsgPause   MsgType = 6
	MsgResume  MsgType = 7
)

// HeaderLen is the fixed frame header size in bytes.
const HeaderLen = 16

// MaxDatagram is the largest frame the protocol will send or accept,
// chosen below a typical MTU to avoid IP fragmentation.
const MaxDatagram = 1024

// ErrFrameTooShort is returned when a buffer is shorter than HeaderLen.
var ErrFrameTooShort = errors.New("adapter: frame shorter than header")

// ErrFrameTooLong is returned when encoding would exceed MaxDatagram.
var ErrFrameTooLong = errors.New("adapter: frame exceeds max datagram size")

// Header is the 16-byte frame header, network byte order.
type Header struct {
	MsgType   MsgType
	MsgLen    uint16 // 0 = variable, implied by UDP datagram length
	SenderID  int32
	EpochMillis int64
}

// EncodeHeader writes h into the first HeaderLen bytes of buf. buf must be
// at least HeaderLen bytes.
func EncodeHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.MsgType))
	binary.BigEndian.PutUint16(buf[2:4], h.MsgLen)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.SenderID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.EpochMillis))
}

// DecodeHeader reads the first HeaderLen bytes of buf into a Header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, ErrFrameTooShort
	}
	return Header{
		MsgType:     MsgType(binary.BigEndian.Uint16(buf[0:2])),
		MsgLen:      binary.BigEndian.Uint16(buf[2:4]),
		SenderID:    int32(binary.BigEndian.Uint32(buf[4:8])),
		EpochMillis: int64(binary.BigEndian.Uint64(buf[8:16])),
	}, nil
}

// Frame is a decoded datagram: header plus its type-dependent body.
type Frame struct {
	Header Header
	Body   []byte
}

// Encode serializes f into a single datagram-ready buffer, newly
// allocated on every call with length HeaderLen+len(f.Body). It returns
// ErrFrameTooLong when that length exceeds MaxDatagram.
func Encode(f Frame) ([]byte, error) {
	total := HeaderLen + len(f.Body)
	if total > MaxDatagram {
		return nil, ErrFrameTooLong
	}
	buf := make([]byte, total)
	EncodeHeader(buf, f.Header)
	copy(buf[HeaderLen:], f.Body)
	return buf, nil
}

// Decode parses a full received datagram into a Frame. The body's length
// is implied by the datagram length (msgLen in the header is informational
// only, matching "0 = variable, implied by UDP length").
func Decode(buf []byte) (Frame, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Frame{}, err
	}
	body := make([]byte, len(buf)-HeaderLen)
	copy(body, buf[HeaderLen:])
	return Frame{Header: h, Body: body}, nil
}
