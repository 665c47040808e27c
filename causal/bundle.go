package causal

import "slices"

// BundleItem is one logged mutation in transit: the dot that names it and
// the delta bytes the owning CRDT produced for it.
type BundleItem struct {
	Dot   Dot
	Delta []byte
}

// Bundle ships (dot, delta) items grouped by crdt id. The per-CRDT order
// is whatever Combine produced; receivers must apply order-independently.
type Bundle map[string][]BundleItem

func NewBundle() Bundle {
	return make(Bundle)
}

// Combine appends other's items after b's per CRDT and unions disjoint
// crdt ids. Not commutative as a sequence, commutative as a multiset.
func (b Bundle) Combine(other Bundle) Bundle {
	next := make(Bundle, len(b)+len(other))
	for id, items := range b {
		next[id] = slices.Clone(items)
	}
	for id, items := range other {
		next[id] = append(next[id], items...)
	}
	return next
}

// Items returns the total item count across all CRDTs.
func (b Bundle) Items() (n int) {
	for _, items := range b {
		n += len(items)
	}
	return
}

func (b Bundle) IsEmpty() bool {
	return b.Items() == 0
}

// SortedIDs returns the crdt ids in ascending byte order.
func (b Bundle) SortedIDs() []string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
