package protocol

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/local-first-systems/replika/causal"
)

// Sync modes carried by SyncRequest.
const (
	SyncFull  byte = 0
	SyncDelta byte = 1
)

// DigestRequest asks a peer for its digest. Empty payload.
type DigestRequest struct{}

func (DigestRequest) MessageType() uint16 {
	return MsgDigestRequest
}

func (DigestRequest) EncodePayload() ([]byte, error) {
	return nil, nil
}

func decodeDigestRequest(body []byte) (Payload, error) {
	if len(body) != 0 {
		return nil, errTrailing
	}
	return DigestRequest{}, nil
}

// DigestResponse carries the responder's digest.
type DigestResponse struct {
	Digest causal.Digest
}

func (DigestResponse) MessageType() uint16 {
	return MsgDigestResponse
}

func (m DigestResponse) EncodePayload() ([]byte, error) {
	return m.Digest.Bytes()
}

func decodeDigestResponse(body []byte) (Payload, error) {
	digest, err := causal.DigestFromBytes(body)
	if err != nil {
		return nil, err
	}
	return DigestResponse{Digest: digest}, nil
}

// SyncRequest asks for deltas: everything (SyncFull) or everything
// beyond the requester's included digest (SyncDelta).
//
//	u8 sync_type || u8 include_digest || u32 digest_len || digest_bytes
type SyncRequest struct {
	SyncType      byte
	IncludeDigest bool
	Digest        causal.Digest
}

func (SyncRequest) MessageType() uint16 {
	return MsgSyncRequest
}

func (m SyncRequest) EncodePayload() ([]byte, error) {
	buf := []byte{m.SyncType}
	if !m.IncludeDigest {
		buf = append(buf, 0)
		return binary.BigEndian.AppendUint32(buf, 0), nil
	}
	digest, err := m.Digest.Bytes()
	if err != nil {
		return nil, err
	}
	buf = append(buf, 1)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(digest)))
	return append(buf, digest...), nil
}

func decodeSyncRequest(body []byte) (Payload, error) {
	if len(body) < 2 {
		return nil, errTruncated
	}
	syncType, flag := body[0], body[1]
	if syncType > SyncDelta {
		return nil, fmt.Errorf("%w: sync type %d", ErrInvalidPayload, syncType)
	}
	if flag > 1 {
		return nil, fmt.Errorf("%w: digest flag %d", ErrInvalidPayload, flag)
	}
	raw, rest, err := takeChunk32(body[2:])
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errTrailing
	}
	m := SyncRequest{SyncType: syncType, IncludeDigest: flag == 1}
	if flag == 0 {
		if len(raw) != 0 {
			return nil, fmt.Errorf("%w: digest without flag", ErrInvalidPayload)
		}
		return m, nil
	}
	if m.Digest, err = causal.DigestFromBytes(raw); err != nil {
		return nil, err
	}
	return m, nil
}

// SyncResponse answers a SyncRequest with a delta bundle, optionally
// preceded by the responder's digest.
//
//	u8 digest_flag || u32 digest_len || [digest] || bundle
//	bundle: u32 crdt_count || (u16 id_len || id || u32 item_count || items)*
//	item:   origin[16] || u64 counter || u32 delta_len || delta
//
// CRDT entries sort by id and items by (origin, counter), so equal
// responses encode byte-identically.
type SyncResponse struct {
	HasDigest bool
	Digest    causal.Digest
	Bundle    causal.Bundle
}

func (SyncResponse) MessageType() uint16 {
	return MsgSyncResponse
}

func (m SyncResponse) EncodePayload() ([]byte, error) {
	var buf []byte
	if m.HasDigest {
		digest, err := m.Digest.Bytes()
		if err != nil {
			return nil, err
		}
		buf = append(buf, 1)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(digest)))
		buf = append(buf, digest...)
	} else {
		buf = append(buf, 0)
		buf = binary.BigEndian.AppendUint32(buf, 0)
	}
	return appendBundle(buf, m.Bundle)
}

func appendBundle(buf []byte, bundle causal.Bundle) ([]byte, error) {
	ids := bundle.SortedIDs()
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ids)))
	for _, id := range ids {
		if len(id) > 0xffff {
			return nil, fmt.Errorf("%w: crdt id of %d bytes", ErrInvalidPayload, len(id))
		}
		items := slices.Clone(bundle[id])
		slices.SortFunc(items, func(a, b causal.BundleItem) int {
			return a.Dot.Compare(b.Dot)
		})
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(id)))
		buf = append(buf, id...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(items)))
		for _, item := range items {
			buf = append(buf, item.Dot.Src[:]...)
			buf = binary.BigEndian.AppendUint64(buf, item.Dot.Seq)
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(item.Delta)))
			buf = append(buf, item.Delta...)
		}
	}
	return buf, nil
}

func decodeSyncResponse(body []byte) (Payload, error) {
	if len(body) < 1 {
		return nil, errTruncated
	}
	flag := body[0]
	if flag > 1 {
		return nil, fmt.Errorf("%w: digest flag %d", ErrInvalidPayload, flag)
	}
	raw, rest, err := takeChunk32(body[1:])
	if err != nil {
		return nil, err
	}
	m := SyncResponse{HasDigest: flag == 1}
	if flag == 0 {
		if len(raw) != 0 {
			return nil, fmt.Errorf("%w: digest without flag", ErrInvalidPayload)
		}
	} else if m.Digest, err = causal.DigestFromBytes(raw); err != nil {
		return nil, err
	}
	if m.Bundle, rest, err = takeBundle(rest); err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errTrailing
	}
	return m, nil
}

func takeBundle(data []byte) (causal.Bundle, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errTruncated
	}
	count := binary.BigEndian.Uint32(data[0:4])
	rest := data[4:]
	bundle := causal.NewBundle()
	for i := uint32(0); i < count; i++ {
		if len(rest) < 2 {
			return nil, nil, errTruncated
		}
		idlen := int(binary.BigEndian.Uint16(rest[0:2]))
		if len(rest) < 2+idlen+4 {
			return nil, nil, errTruncated
		}
		id := string(rest[2 : 2+idlen])
		if _, ok := bundle[id]; ok {
			return nil, nil, fmt.Errorf("%w: crdt %x", causal.ErrDuplicateKey, id)
		}
		itemCount := binary.BigEndian.Uint32(rest[2+idlen : 2+idlen+4])
		rest = rest[2+idlen+4:]
		items := make([]causal.BundleItem, 0, itemCount)
		for j := uint32(0); j < itemCount; j++ {
			if len(rest) < causal.ReplicaIDLen+8 {
				return nil, nil, errTruncated
			}
			origin, err := causal.ReplicaIDFromBytes(rest[:causal.ReplicaIDLen])
			if err != nil {
				return nil, nil, err
			}
			counter := binary.BigEndian.Uint64(rest[causal.ReplicaIDLen : causal.ReplicaIDLen+8])
			var delta []byte
			delta, rest, err = takeChunk32(rest[causal.ReplicaIDLen+8:])
			if err != nil {
				return nil, nil, err
			}
			items = append(items, causal.BundleItem{
				Dot:   causal.NewDot(origin, counter),
				Delta: slices.Clone(delta),
			})
		}
		bundle[id] = items
	}
	return bundle, rest, nil
}
