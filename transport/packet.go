// Package transport implements the wire format and datagram transport for
// the reliable delivery protocol.
//
// This package handles frame encoding, integrity checking, and UDP
// communication. A frame carries a sequence number, a CRC-32 checksum, and
// at most one payload byte:
//
//	data := transport.EncodeFrame(42, []byte{0x41})
//	err := trans.Send(data, remoteAddr)
//
// A frame with no payload is an acknowledgment when it arrives at the
// sender, and an end-of-stream marker when it arrives at the receiver. The
// frame format itself does not distinguish the two; the role of the endpoint
// does.
package transport

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/sirupsen/logrus"
)

// HeaderSize is the length of the fixed frame header: a 4-byte sequence
// number followed by a 4-byte CRC-32 checksum. It is also the length of the
// smallest valid frame.
const HeaderSize = 8

// MaxFrameSize is the length of the largest valid frame: the header plus a
// single payload byte.
const MaxFrameSize = HeaderSize + 1

// Frame is a decoded wire frame.
type Frame struct {
	Seq      uint32
	Checksum uint32
	Payload  []byte // nil (absent) or exactly one byte
}

// HasPayload reports whether the frame carries a payload byte.
func (f *Frame) HasPayload() bool {
	return f.Payload != nil
}

// frameChecksum computes the CRC-32 (IEEE) of the big-endian sequence number
// bytes followed by the payload, if any.
func frameChecksum(seq uint32, payload []byte) uint32 {
	var buf [MaxFrameSize - 4]byte
	binary.BigEndian.PutUint32(buf[:4], seq)
	n := copy(buf[4:], payload)
	return crc32.ChecksumIEEE(buf[:4+n])
}

// EncodeFrame serializes a frame for transmission.
//
// Format: [sequence number (4 bytes BE)][checksum (4 bytes BE)][payload (0 or 1 byte)]
//
// payload must be nil or a single byte; longer slices are truncated to one
// byte, matching the one-payload-byte wire contract.
func EncodeFrame(seq uint32, payload []byte) []byte {
	if len(payload) > 1 {
		payload = payload[:1]
	}

	result := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(result[0:4], seq)
	binary.BigEndian.PutUint32(result[4:8], frameChecksum(seq, payload))
	copy(result[HeaderSize:], payload)

	return result
}

// AckFrame serializes an acknowledgment for the given sequence number. An
// ACK is simply a frame with no payload.
func AckFrame(seq uint32) []byte {
	return EncodeFrame(seq, nil)
}

// ParseFrame decodes a received datagram into a Frame.
//
// It returns nil when the datagram is malformed: shorter than the header,
// longer than a full frame, or carrying a checksum that does not match the
// recomputed value. Corrupt input must never crash either endpoint, so this
// function never returns an error and never panics; a nil result means
// "proceed as if nothing arrived".
func ParseFrame(data []byte) *Frame {
	if len(data) < HeaderSize || len(data) > MaxFrameSize {
		logrus.WithFields(logrus.Fields{
			"function": "ParseFrame",
			"length":   len(data),
		}).Debug("Discarding malformed frame")
		return nil
	}

	frame := &Frame{
		Seq:      binary.BigEndian.Uint32(data[0:4]),
		Checksum: binary.BigEndian.Uint32(data[4:8]),
	}
	if len(data) > HeaderSize {
		frame.Payload = []byte{data[HeaderSize]}
	}

	if frameChecksum(frame.Seq, frame.Payload) != frame.Checksum {
		logrus.WithFields(logrus.Fields{
			"function": "ParseFrame",
			"seq":      frame.Seq,
			"checksum": frame.Checksum,
		}).Debug("Discarding frame with checksum mismatch")
		return nil
	}

	return frame
}
