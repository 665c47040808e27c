package replika

import (
	"fmt"
	"maps"

	"github.com/local-first-systems/replika/causal"
	"github.com/local-first-systems/replika/crdt"
)

// Options is the replica's policy bag: retention and GC knobs the host
// may set. Stored and persisted, not enforced by the core.
type Options map[string]string

// Binding ties a crdt id to its implementation type, current state and
// client-owned metadata.
type Binding struct {
	Type  string
	State any
	Meta  map[string]any
}

// AddOptions tunes AddCrdt. Overwrite replaces an existing binding;
// InitialState seeds the binding instead of the type's zero.
type AddOptions struct {
	Overwrite    bool
	InitialState any
	Meta         map[string]any
}

// Listing is one row of ListCrdts: the binding minus its state.
type Listing struct {
	ID   string
	Type string
	Meta map[string]any
}

// Replica is the core state machine. All methods either succeed or
// leave the replica exactly as it was; none of them block. The caller
// must serialize access — two concurrent mutations must never observe
// the same pre-image (the host package wraps a Replica in a mutex).
type Replica struct {
	id     causal.ReplicaID
	crdts  map[string]*Binding
	ctx    causal.Context
	log    *Components
	policy Options
}

// New opens a replica for a 16-byte id.
func New(id []byte, policy Options) (*Replica, error) {
	rid, err := causal.ReplicaIDFromBytes(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidID, len(id))
	}
	return NewWithID(rid, policy), nil
}

func NewWithID(id causal.ReplicaID, policy Options) *Replica {
	if policy == nil {
		policy = Options{}
	}
	return &Replica{
		id:     id,
		crdts:  make(map[string]*Binding),
		ctx:    causal.NewContext(),
		log:    NewComponents(),
		policy: policy,
	}
}

// Restore rebuilds a replica from persisted parts. The caller owns the
// arguments afterwards only through the replica.
func Restore(id causal.ReplicaID, policy Options, crdts map[string]*Binding, ctx causal.Context, log *Components) *Replica {
	r := NewWithID(id, policy)
	if crdts != nil {
		r.crdts = crdts
	}
	if ctx != nil {
		r.ctx = ctx
	}
	if log != nil {
		r.log = log
	}
	return r
}

func (r *Replica) ID() causal.ReplicaID {
	return r.id
}

func (r *Replica) Policy() Options {
	return r.policy
}

// Context returns a copy of the causal context.
func (r *Replica) Context() causal.Context {
	return r.ctx.Clone()
}

// Components exposes the delta log for digest queries and persistence.
// Callers must not append to it directly.
func (r *Replica) Components() *Components {
	return r.log
}

// AddCrdt binds crdtID to a registered type. An existing binding fails
// with ErrCrdtExists unless opts.Overwrite; an unregistered type fails
// with crdt.ErrTypeUnknown.
func (r *Replica) AddCrdt(crdtID, typeTag string, opts AddOptions) error {
	if _, ok := r.crdts[crdtID]; ok && !opts.Overwrite {
		return fmt.Errorf("%w: %x", ErrCrdtExists, crdtID)
	}
	impl, err := crdt.Lookup(typeTag)
	if err != nil {
		return fmt.Errorf("%w: %q", err, typeTag)
	}
	state := opts.InitialState
	if state == nil {
		state = impl.Zero()
	}
	meta := opts.Meta
	if meta == nil {
		meta = make(map[string]any)
	}
	r.crdts[crdtID] = &Binding{Type: typeTag, State: state, Meta: maps.Clone(meta)}
	return nil
}

// EnsureCrdt is the idempotent AddCrdt: an existing binding is success.
func (r *Replica) EnsureCrdt(crdtID, typeTag string, opts AddOptions) error {
	if _, ok := r.crdts[crdtID]; ok {
		return nil
	}
	opts.Overwrite = false
	return r.AddCrdt(crdtID, typeTag, opts)
}

// FetchCrdt returns a copy of the binding descriptor.
func (r *Replica) FetchCrdt(crdtID string) (Binding, error) {
	b, ok := r.crdts[crdtID]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %x", ErrCrdtUnknown, crdtID)
	}
	return Binding{Type: b.Type, State: b.State, Meta: maps.Clone(b.Meta)}, nil
}

// ListCrdts lists the bindings, type and meta only, in no particular
// order.
func (r *Replica) ListCrdts() []Listing {
	listings := make([]Listing, 0, len(r.crdts))
	for id, b := range r.crdts {
		listings = append(listings, Listing{ID: id, Type: b.Type, Meta: maps.Clone(b.Meta)})
	}
	return listings
}

// SetCrdtMeta replaces a binding's meta mapping.
func (r *Replica) SetCrdtMeta(crdtID string, meta map[string]any) error {
	b, ok := r.crdts[crdtID]
	if !ok {
		return fmt.Errorf("%w: %x", ErrCrdtUnknown, crdtID)
	}
	if meta == nil {
		return ErrInvalidMeta
	}
	b.Meta = maps.Clone(meta)
	return nil
}

// UpdateCrdtMeta replaces a binding's meta through a pure callback; a
// nil result is rejected with ErrInvalidMeta and nothing changes.
func (r *Replica) UpdateCrdtMeta(crdtID string, fn func(map[string]any) map[string]any) error {
	b, ok := r.crdts[crdtID]
	if !ok {
		return fmt.Errorf("%w: %x", ErrCrdtUnknown, crdtID)
	}
	next := fn(maps.Clone(b.Meta))
	if next == nil {
		return ErrInvalidMeta
	}
	b.Meta = maps.Clone(next)
	return nil
}

// Value projects a bound CRDT's current external value.
func (r *Replica) Value(crdtID string) (any, error) {
	b, ok := r.crdts[crdtID]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrCrdtUnknown, crdtID)
	}
	impl, err := crdt.Lookup(b.Type)
	if err != nil {
		return nil, err
	}
	return impl.Value(b.State), nil
}

// ApplyOp performs a local mutation: mints the next dot for this
// replica, runs the type's Mutate, records the delta and extends the
// context. All-or-nothing — any failure leaves the replica untouched.
func (r *Replica) ApplyOp(crdtID string, op any) (causal.Dot, error) {
	dot := causal.NewDot(r.id, r.ctx.MaxFor(r.id)+1)
	b, ok := r.crdts[crdtID]
	if !ok {
		return causal.Dot{}, fmt.Errorf("%w: %x", ErrCrdtUnknown, crdtID)
	}
	impl, err := crdt.Lookup(b.Type)
	if err != nil {
		return causal.Dot{}, err
	}
	newState, delta, err := impl.Mutate(b.State, op, dot)
	if err != nil {
		return causal.Dot{}, err
	}
	if err := r.log.Append(crdtID, r.id, dot.Seq, delta); err != nil {
		return causal.Dot{}, err
	}
	b.State = newState
	r.ctx = r.ctx.Add(dot)
	return dot, nil
}

// ApplyRemote ingests one (dot, delta) pair from a peer. A dot already
// in the context is success without changes. A duplicate log entry for
// an unseen dot means the log and the context disagree — that is an
// invariant violation and the ingestion is aborted untouched.
func (r *Replica) ApplyRemote(crdtID string, dot causal.Dot, delta []byte) error {
	if r.ctx.Contains(dot) {
		return nil
	}
	if !dot.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidDot, dot)
	}
	b, ok := r.crdts[crdtID]
	if !ok {
		return fmt.Errorf("%w: %x", ErrCrdtUnknown, crdtID)
	}
	impl, err := crdt.Lookup(b.Type)
	if err != nil {
		return err
	}
	newState, err := impl.ApplyDelta(b.State, delta, r.ctx)
	if err != nil {
		return err
	}
	if err := r.log.Append(crdtID, dot.Src, dot.Seq, delta); err != nil {
		return err
	}
	b.State = newState
	r.ctx = r.ctx.Add(dot)
	return nil
}

// Digest summarizes this replica's own progress: every bound CRDT maps
// to (self, the context's maximum for self). The same local maximum is
// stamped on every CRDT — the digest reports what this replica could
// send from its own authorship, not per-CRDT activity.
func (r *Replica) Digest() causal.Digest {
	digest := causal.NewDigest()
	max := r.ctx.MaxFor(r.id)
	for crdtID := range r.crdts {
		digest[crdtID] = causal.Mark{Origin: r.id, Counter: max}
	}
	return digest
}

// Delta bundles, per bound CRDT, this replica's own log entries with
// counters above the peer digest's mark (0 when the CRDT is absent).
// CRDTs with nothing to send are omitted.
func (r *Replica) Delta(since causal.Digest) causal.Bundle {
	bundle := causal.NewBundle()
	for crdtID := range r.crdts {
		after := since[crdtID].Counter
		var items []causal.BundleItem
		for _, e := range r.log.Since(crdtID, r.id, after) {
			items = append(items, causal.BundleItem{
				Dot:   causal.NewDot(r.id, e.Counter),
				Delta: e.Delta,
			})
		}
		if len(items) > 0 {
			bundle[crdtID] = items
		}
	}
	return bundle
}
