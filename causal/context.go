package causal

// Context is the causal context: the set of event counters a replica has
// observed, keyed by origin. A missing origin is the same as an empty set.
// Counter sets may have gaps, delta delivery order is not enforced.
//
// Mutators return a new Context; untouched per-origin sets are shared.
type Context map[ReplicaID]OrdSet[uint64]

func NewContext() Context {
	return make(Context)
}

func ContextFromDots(dots ...Dot) Context {
	ctx := make(Context, len(dots))
	for _, d := range dots {
		if !d.Valid() {
			continue
		}
		ctx[d.Src] = ctx[d.Src].Insert(d.Seq)
	}
	return ctx
}

func (ctx Context) Contains(d Dot) bool {
	set, ok := ctx[d.Src]
	return ok && set.Contains(d.Seq)
}

// Add returns a context containing d.
func (ctx Context) Add(d Dot) Context {
	next := make(Context, len(ctx)+1)
	for src, set := range ctx {
		next[src] = set
	}
	next[d.Src] = next[d.Src].Insert(d.Seq)
	return next
}

// MaxFor returns the largest counter recorded for src, 0 if none.
// ApplyOp mints the next local dot from this.
func (ctx Context) MaxFor(src ReplicaID) uint64 {
	set, ok := ctx[src]
	if !ok {
		return 0
	}
	max, _ := set.Max()
	return max
}

// Equal compares per-origin sets across the union of keys; an absent
// origin equals an empty set.
func (ctx Context) Equal(other Context) bool {
	for src, set := range ctx {
		if !set.Equal(other[src]) {
			return false
		}
	}
	for src, set := range other {
		if _, ok := ctx[src]; !ok && !set.IsEmpty() {
			return false
		}
	}
	return true
}

// Lt reports strict causal dominance: every per-origin set of ctx is a
// subset of other's, and at least one containment is strict.
func (ctx Context) Lt(other Context) bool {
	strict := false
	for src, set := range ctx {
		oset := other[src]
		if !set.Subset(oset) {
			return false
		}
		if set.Size() < oset.Size() {
			strict = true
		}
	}
	for src, oset := range other {
		if _, ok := ctx[src]; !ok && !oset.IsEmpty() {
			strict = true
		}
	}
	return strict
}

// Join is the per-origin set union. Commutative and idempotent.
func (ctx Context) Join(other Context) Context {
	next := make(Context, len(ctx)+len(other))
	for src, set := range ctx {
		next[src] = set
	}
	for src, set := range other {
		if have, ok := next[src]; ok {
			next[src] = have.Union(set)
		} else {
			next[src] = set
		}
	}
	return next
}

// Since returns what ctx has seen beyond earlier: the per-origin set
// difference, keeping only origins with a non-empty remainder. Origins
// present only in earlier contribute nothing.
func (ctx Context) Since(earlier Context) Context {
	next := make(Context)
	for src, set := range ctx {
		rest := set.Difference(earlier[src])
		if !rest.IsEmpty() {
			next[src] = rest
		}
	}
	return next
}

func (ctx Context) IsEmpty() bool {
	for _, set := range ctx {
		if !set.IsEmpty() {
			return false
		}
	}
	return true
}

// Dots enumerates every observed event. Order is unspecified.
func (ctx Context) Dots() (dots []Dot) {
	for src, set := range ctx {
		for _, seq := range set.Slice() {
			dots = append(dots, Dot{Src: src, Seq: seq})
		}
	}
	return
}

func (ctx Context) Clone() Context {
	next := make(Context, len(ctx))
	for src, set := range ctx {
		next[src] = set
	}
	return next
}
