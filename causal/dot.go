package causal

import (
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/google/uuid"
)

// ReplicaID is a 16-byte opaque replica identifier.
// Equality is byte-wise; the hex form is for humans only.
type ReplicaID [16]byte

const ReplicaIDLen = 16

var ZeroReplicaID ReplicaID

var (
	ErrBadReplicaID = errors.New("replika: replica id must be 16 bytes")
	ErrBadDot       = errors.New("replika: bad dot")
)

// NewReplicaID mints a random replica id.
func NewReplicaID() ReplicaID {
	return ReplicaID(uuid.New())
}

func ReplicaIDFromBytes(b []byte) (id ReplicaID, err error) {
	if len(b) != ReplicaIDLen {
		return id, ErrBadReplicaID
	}
	copy(id[:], b)
	return id, nil
}

func ParseReplicaID(s string) (id ReplicaID, err error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, ErrBadReplicaID
	}
	return ReplicaIDFromBytes(raw)
}

func (id ReplicaID) Bytes() []byte {
	return id[:]
}

func (id ReplicaID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ReplicaID) IsZero() bool {
	return id == ZeroReplicaID
}

// Compare orders ids lexicographically by their bytes.
func (id ReplicaID) Compare(other ReplicaID) int {
	for i := 0; i < ReplicaIDLen; i++ {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Dot names exactly one event: the Seq-th event minted by Src.
// Seq 0 means "no event"; a valid dot has Seq >= 1.
type Dot struct {
	Src ReplicaID
	Seq uint64
}

func NewDot(src ReplicaID, seq uint64) Dot {
	return Dot{Src: src, Seq: seq}
}

func (d Dot) Valid() bool {
	return d.Seq >= 1
}

func (d Dot) Compare(other Dot) int {
	if c := d.Src.Compare(other.Src); c != 0 {
		return c
	}
	switch {
	case d.Seq < other.Seq:
		return -1
	case d.Seq > other.Seq:
		return 1
	}
	return 0
}

func (d Dot) String() string {
	var buf [48]byte
	b := buf[:0]
	b = append(b, d.Src.String()...)
	b = append(b, '-')
	b = strconv.AppendUint(b, d.Seq, 16)
	return string(b)
}
