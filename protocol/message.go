package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/local-first-systems/replika/causal"
)

// Codec error sentinels are shared with the digest/crdt codecs so hosts
// match one family of errors at the boundary.
var (
	errTruncated = causal.ErrTruncated
	errTrailing  = causal.ErrTrailingBytes
)

// Payload is one of the four message bodies.
type Payload interface {
	// MessageType returns the header type id this payload travels under.
	MessageType() uint16
	// EncodePayload renders the body bytes, header excluded.
	EncodePayload() ([]byte, error)
}

// Message is a decoded envelope.
type Message struct {
	Header  Header
	Payload Payload
}

// Encode builds the full envelope for a payload: body first, then the
// header with the measured length, then the concatenation.
func Encode(p Payload) ([]byte, error) {
	body, err := p.EncodePayload()
	if err != nil {
		return nil, err
	}
	if len(body) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, len(body))
	}
	h := Header{
		Version:       Version,
		Type:          p.MessageType(),
		PayloadLength: uint32(len(body)),
	}
	buf := make([]byte, 0, HeaderLen+len(body))
	buf = AppendHeader(buf, h)
	return append(buf, body...), nil
}

// Decode parses one envelope. The declared payload length must match
// the remaining bytes exactly.
func Decode(data []byte) (Message, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return Message{}, err
	}
	if h.Version != Version {
		return Message{}, fmt.Errorf("%w: protocol v%d", causal.ErrUnsupportedVersion, h.Version)
	}
	body := data[HeaderLen:]
	if uint32(len(body)) < h.PayloadLength {
		return Message{}, errTruncated
	}
	if uint32(len(body)) > h.PayloadLength {
		return Message{}, errTrailing
	}

	var p Payload
	switch h.Type {
	case MsgDigestRequest:
		p, err = decodeDigestRequest(body)
	case MsgDigestResponse:
		p, err = decodeDigestResponse(body)
	case MsgSyncRequest:
		p, err = decodeSyncRequest(body)
	case MsgSyncResponse:
		p, err = decodeSyncResponse(body)
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, h.Type)
	}
	if err != nil {
		return Message{}, err
	}
	return Message{Header: h, Payload: p}, nil
}

// takeChunk32 consumes a u32 length prefix and that many bytes.
func takeChunk32(data []byte) (chunk, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, errTruncated
	}
	n := binary.BigEndian.Uint32(data[0:4])
	if n > MaxPayloadLen {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	if uint32(len(data)-4) < n {
		return nil, nil, errTruncated
	}
	return data[4 : 4+n], data[4+n:], nil
}
