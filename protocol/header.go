// Package protocol implements the anti-entropy wire format: a fixed
// 12-byte big-endian header followed by a length-prefixed payload.
//
//	u16 protocol_version || u16 message_type || u32 flags || u32 payload_length
//
// Four message types drive one sync exchange: DigestRequest (1, empty),
// DigestResponse (2, a digest), SyncRequest (3, the peer's digest plus
// mode), SyncResponse (4, an optional digest plus a delta bundle).
// Encoders are deterministic; decoders reject unknown types, unsupported
// versions, non-zero flag bits, truncation, and trailing bytes.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Version is the protocol version this package speaks.
	Version uint16 = 1

	// HeaderLen is the fixed encoded header size.
	HeaderLen = 12

	// MaxPayloadLen bounds the declared payload length.
	MaxPayloadLen = 0x7fffffff
)

// Message type ids.
const (
	MsgDigestRequest uint16 = iota + 1
	MsgDigestResponse
	MsgSyncRequest
	MsgSyncResponse
)

var (
	ErrInvalidVersion     = errors.New("replika: invalid protocol version")
	ErrInvalidFlags       = errors.New("replika: non-zero header flags")
	ErrInvalidLength      = errors.New("replika: invalid payload length")
	ErrInvalidMessageType = errors.New("replika: invalid message type")
	ErrInvalidPayload     = errors.New("replika: invalid payload")
)

// Header is the fixed message prefix. Flags are reserved: only the
// all-zero flagset is valid on the wire, which leaves room for future
// extension without a version bump.
type Header struct {
	Version       uint16
	Type          uint16
	Flags         uint32
	PayloadLength uint32
}

// AppendHeader encodes h onto buf.
func AppendHeader(buf []byte, h Header) []byte {
	buf = binary.BigEndian.AppendUint16(buf, h.Version)
	buf = binary.BigEndian.AppendUint16(buf, h.Type)
	buf = binary.BigEndian.AppendUint32(buf, h.Flags)
	buf = binary.BigEndian.AppendUint32(buf, h.PayloadLength)
	return buf
}

// ParseHeader decodes and validates the 12-byte header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderLen {
		return Header{}, errTruncated
	}
	h := Header{
		Version:       binary.BigEndian.Uint16(data[0:2]),
		Type:          binary.BigEndian.Uint16(data[2:4]),
		Flags:         binary.BigEndian.Uint32(data[4:8]),
		PayloadLength: binary.BigEndian.Uint32(data[8:12]),
	}
	if h.Version == 0 {
		return Header{}, fmt.Errorf("%w: 0", ErrInvalidVersion)
	}
	if h.Flags != 0 {
		return Header{}, fmt.Errorf("%w: %#x", ErrInvalidFlags, h.Flags)
	}
	if h.PayloadLength > MaxPayloadLen {
		return Header{}, fmt.Errorf("%w: %d", ErrInvalidLength, h.PayloadLength)
	}
	if h.Type < MsgDigestRequest || h.Type > MsgSyncResponse {
		return Header{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, h.Type)
	}
	return h, nil
}
