package crdt

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/local-first-systems/replika/causal"
)

// TypeGCounter tags the grow-only counter, the reference implementation
// of the capability contract.
const TypeGCounter = "gcounter"

const gcounterVersion uint16 = 1

// GCounterState maps each contributing replica to its share of the total.
type GCounterState map[causal.ReplicaID]uint64

// Inc increments the counter by N at the mutating replica; N=0 means 1.
type Inc struct {
	N uint64
}

// GCounter is a state-based grow-only counter. The delta for an
// increment is the singleton map carrying the origin's new share, and
// both ApplyDelta and Join are pointwise maximum.
type GCounter struct{}

func init() {
	Register(TypeGCounter, GCounter{})
}

func (GCounter) Zero() any {
	return GCounterState{}
}

func (GCounter) Version() uint16 {
	return gcounterVersion
}

func (GCounter) Value(state any) any {
	m, ok := state.(GCounterState)
	if !ok {
		return uint64(0)
	}
	var sum uint64
	for _, v := range m {
		sum += v
	}
	return sum
}

func (g GCounter) Mutate(state, op any, at causal.Dot) (any, []byte, error) {
	m, ok := state.(GCounterState)
	if !ok {
		return nil, nil, ErrBadState
	}
	inc, ok := op.(Inc)
	if !ok {
		return nil, nil, ErrBadOp
	}
	n := inc.N
	if n == 0 {
		n = 1
	}
	next := cloneGCounter(m)
	next[at.Src] += n
	delta, err := g.Encode(GCounterState{at.Src: next[at.Src]})
	if err != nil {
		return nil, nil, err
	}
	return next, delta, nil
}

func (g GCounter) ApplyDelta(state any, delta []byte, _ causal.Context) (any, error) {
	m, ok := state.(GCounterState)
	if !ok {
		return nil, ErrBadState
	}
	d, err := g.Decode(delta)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDelta, err)
	}
	merged, err := g.Join(m, d)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (GCounter) Join(a, b any) (any, error) {
	ma, ok := a.(GCounterState)
	if !ok {
		return nil, ErrBadState
	}
	mb, ok := b.(GCounterState)
	if !ok {
		return nil, ErrBadState
	}
	next := cloneGCounter(ma)
	for src, v := range mb {
		if v > next[src] {
			next[src] = v
		}
	}
	return next, nil
}

// Context is empty: a state-based counter carries no embedded dots.
func (GCounter) Context(any) causal.Context {
	return causal.NewContext()
}

// Encode renders the state as
//
//	u16 version || u32 entry_count || (u16 id_len || id || u64 value)*
//
// with entries sorted by replica id so equal states encode identically.
func (GCounter) Encode(state any) ([]byte, error) {
	m, ok := state.(GCounterState)
	if !ok {
		return nil, ErrBadState
	}
	srcs := make([]causal.ReplicaID, 0, len(m))
	for src := range m {
		srcs = append(srcs, src)
	}
	slices.SortFunc(srcs, causal.ReplicaID.Compare)

	buf := make([]byte, 0, 6+len(srcs)*26)
	buf = binary.BigEndian.AppendUint16(buf, gcounterVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(srcs)))
	for _, src := range srcs {
		buf = binary.BigEndian.AppendUint16(buf, causal.ReplicaIDLen)
		buf = append(buf, src[:]...)
		buf = binary.BigEndian.AppendUint64(buf, m[src])
	}
	return buf, nil
}

func (GCounter) Decode(data []byte) (any, error) {
	if len(data) < 6 {
		return nil, causal.ErrTruncated
	}
	ver := binary.BigEndian.Uint16(data[0:2])
	if ver != gcounterVersion {
		return nil, fmt.Errorf("%w: gcounter v%d", causal.ErrUnsupportedVersion, ver)
	}
	count := binary.BigEndian.Uint32(data[2:6])
	rest := data[6:]
	m := make(GCounterState, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 2 {
			return nil, causal.ErrTruncated
		}
		idlen := int(binary.BigEndian.Uint16(rest[0:2]))
		if len(rest) < 2+idlen+8 {
			return nil, causal.ErrTruncated
		}
		src, err := causal.ReplicaIDFromBytes(rest[2 : 2+idlen])
		if err != nil {
			return nil, err
		}
		if _, ok := m[src]; ok {
			return nil, fmt.Errorf("%w: replica %s", causal.ErrDuplicateKey, src)
		}
		m[src] = binary.BigEndian.Uint64(rest[2+idlen : 2+idlen+8])
		rest = rest[2+idlen+8:]
	}
	if len(rest) != 0 {
		return nil, causal.ErrTrailingBytes
	}
	return m, nil
}

func cloneGCounter(m GCounterState) GCounterState {
	next := make(GCounterState, len(m)+1)
	for src, v := range m {
		next[src] = v
	}
	return next
}
