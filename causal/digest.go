package causal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
)

// Mark is one digest entry: how far a CRDT has progressed. The counter is
// authoritative; the origin rides along for diagnostics and defaults.
type Mark struct {
	Origin  ReplicaID
	Counter uint64
}

// Digest summarizes per-CRDT progress, keyed by crdt id (raw bytes).
// A missing key means counter 0.
type Digest map[string]Mark

const DigestVersion uint16 = 1

var (
	ErrUnsupportedVersion = errors.New("replika: unsupported codec version")
	ErrDuplicateKey       = errors.New("replika: duplicate key in encoded map")
	ErrTruncated          = errors.New("replika: truncated input")
	ErrTrailingBytes      = errors.New("replika: trailing bytes after payload")
	ErrBadEntry           = errors.New("replika: bad digest entry")
)

func NewDigest() Digest {
	return make(Digest)
}

// Merge keeps, per CRDT, the mark with the larger counter; ties keep d's.
func (d Digest) Merge(other Digest) Digest {
	next := make(Digest, len(d)+len(other))
	for id, mark := range d {
		next[id] = mark
	}
	for id, mark := range other {
		if have, ok := next[id]; !ok || mark.Counter > have.Counter {
			next[id] = mark
		}
	}
	return next
}

// Eq compares counters only, across the union of keys. Origins are
// informational and ignored here.
func (d Digest) Eq(other Digest) bool {
	for id, mark := range d {
		if mark.Counter != other[id].Counter {
			return false
		}
	}
	for id, mark := range other {
		if _, ok := d[id]; !ok && mark.Counter != 0 {
			return false
		}
	}
	return true
}

// Gt reports strict dominance: every counter of d is >= other's, at least
// one strictly so, and every non-zero key of other is present in d.
func (d Digest) Gt(other Digest) bool {
	strict := false
	for id, mark := range d {
		oc := other[id].Counter
		if mark.Counter < oc {
			return false
		}
		if mark.Counter > oc {
			strict = true
		}
	}
	for id, mark := range other {
		if mark.Counter == 0 {
			continue
		}
		if _, ok := d[id]; !ok {
			return false
		}
	}
	return strict
}

// Since keeps the CRDTs where d's counter strictly exceeds earlier's.
func (d Digest) Since(earlier Digest) Digest {
	next := make(Digest)
	for id, mark := range d {
		if mark.Counter > earlier[id].Counter {
			next[id] = mark
		}
	}
	return next
}

// CoversNonzero reports whether every key of other with a non-zero counter
// is present in d.
func (d Digest) CoversNonzero(other Digest) bool {
	for id, mark := range other {
		if mark.Counter == 0 {
			continue
		}
		if _, ok := d[id]; !ok {
			return false
		}
	}
	return true
}

// SortedIDs returns the crdt ids in ascending byte order.
func (d Digest) SortedIDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Bytes encodes the digest:
//
//	u16 version=1 || u32 entry_count || entries
//	entry: u16 id_len || id || u16 origin_len || origin || u64 counter
//
// Entries sorted ascending by (crdt id, origin) so equal digests encode
// byte-identically.
func (d Digest) Bytes() ([]byte, error) {
	ids := d.SortedIDs()
	buf := make([]byte, 0, 6+len(ids)*44)
	buf = binary.BigEndian.AppendUint16(buf, DigestVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ids)))
	for _, id := range ids {
		if len(id) > 0xffff {
			return nil, fmt.Errorf("%w: crdt id of %d bytes", ErrBadEntry, len(id))
		}
		mark := d[id]
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(id)))
		buf = append(buf, id...)
		buf = binary.BigEndian.AppendUint16(buf, ReplicaIDLen)
		buf = append(buf, mark.Origin[:]...)
		buf = binary.BigEndian.AppendUint64(buf, mark.Counter)
	}
	return buf, nil
}

// DigestFromBytes decodes an encoded digest, rejecting unsupported
// versions, duplicate crdt ids and trailing bytes.
func DigestFromBytes(data []byte) (Digest, error) {
	if len(data) < 6 {
		return nil, ErrTruncated
	}
	ver := binary.BigEndian.Uint16(data[0:2])
	if ver != DigestVersion {
		return nil, fmt.Errorf("%w: digest v%d", ErrUnsupportedVersion, ver)
	}
	count := binary.BigEndian.Uint32(data[2:6])
	rest := data[6:]
	d := make(Digest, count)
	for i := uint32(0); i < count; i++ {
		var id []byte
		var err error
		id, rest, err = takeChunk16(rest)
		if err != nil {
			return nil, err
		}
		var origin []byte
		origin, rest, err = takeChunk16(rest)
		if err != nil {
			return nil, err
		}
		if len(origin) != ReplicaIDLen {
			return nil, fmt.Errorf("%w: origin of %d bytes", ErrBadEntry, len(origin))
		}
		if len(rest) < 8 {
			return nil, ErrTruncated
		}
		counter := binary.BigEndian.Uint64(rest[:8])
		rest = rest[8:]
		if _, ok := d[string(id)]; ok {
			return nil, fmt.Errorf("%w: crdt %x", ErrDuplicateKey, id)
		}
		mark := Mark{Counter: counter}
		copy(mark.Origin[:], origin)
		d[string(id)] = mark
	}
	if len(rest) != 0 {
		return nil, ErrTrailingBytes
	}
	return d, nil
}

// takeChunk16 consumes a u16 length prefix and that many bytes.
func takeChunk16(data []byte) (chunk, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, ErrTruncated
	}
	n := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+n {
		return nil, nil, ErrTruncated
	}
	return data[2 : 2+n], data[2+n:], nil
}
