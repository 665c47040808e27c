// Package crdt defines the capability contract every hosted CRDT
// implementation honors, and a registry mapping wire type tags to
// implementations. The replica stays type-agnostic: it moves opaque
// states and delta blobs around and lets the implementation interpret
// them.
package crdt

import (
	"errors"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/local-first-systems/replika/causal"
)

var (
	ErrTypeUnknown = errors.New("replika: unknown crdt type")
	ErrBadState    = errors.New("replika: state does not belong to this crdt type")
	ErrBadOp       = errors.New("replika: op does not belong to this crdt type")
	ErrBadDelta    = errors.New("replika: bad delta")
)

// Crdt is the capability contract. States and ops are opaque to the
// replica; deltas cross the boundary as the implementation's own
// version-tagged encoding, so the log and the wire treat them as blobs.
//
// ApplyDelta and Join must be commutative, associative and idempotent
// for any delta/state produced by any replica; Mutate must emit a delta
// sufficient to reproduce the new information on another replica.
type Crdt interface {
	// Zero is the lattice bottom. Value(Zero()) is the identity value.
	Zero() any
	// Value projects a state to its external value.
	Value(state any) any
	// Version is the implementation's wire-format tag.
	Version() uint16
	// Mutate applies op at the given dot, returning the new state and
	// the encoded delta.
	Mutate(state, op any, at causal.Dot) (any, []byte, error)
	// ApplyDelta merges an encoded delta into state; the result is
	// never below state in the lattice.
	ApplyDelta(state any, delta []byte, ctx causal.Context) (any, error)
	// Join is the lattice least upper bound.
	Join(a, b any) (any, error)
	// Context is the causal context embedded in the state; empty for
	// state-based types.
	Context(state any) causal.Context
	// Encode and Decode translate full states for persistence and
	// full-state transfer.
	Encode(state any) ([]byte, error)
	Decode(data []byte) (any, error)
}

var registry = xsync.NewMapOf[string, Crdt]()

// Register binds a type tag to an implementation. Re-registering a tag
// replaces the previous binding.
func Register(tag string, impl Crdt) {
	registry.Store(tag, impl)
}

// Lookup resolves a type tag.
func Lookup(tag string) (Crdt, error) {
	impl, ok := registry.Load(tag)
	if !ok {
		return nil, ErrTypeUnknown
	}
	return impl, nil
}

// Known lists the registered type tags.
func Known() (tags []string) {
	registry.Range(func(tag string, _ Crdt) bool {
		tags = append(tags, tag)
		return true
	})
	return
}
