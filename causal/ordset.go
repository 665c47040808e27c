package causal

import (
	"slices"

	"golang.org/x/exp/constraints"
)

// OrdSet is a set of ordered elements backed by a sorted slice.
// Keeping the elements sorted makes Equal and Subset linear scans.
// All operations are value-semantic: mutators return a new set and
// never touch the receiver's backing slice.
type OrdSet[T constraints.Ordered] struct {
	items []T
}

func NewOrdSet[T constraints.Ordered]() OrdSet[T] {
	return OrdSet[T]{}
}

func OrdSetFrom[T constraints.Ordered](values ...T) OrdSet[T] {
	items := make([]T, 0, len(values))
	for _, v := range values {
		at, ok := slices.BinarySearch(items, v)
		if !ok {
			items = slices.Insert(items, at, v)
		}
	}
	return OrdSet[T]{items: items}
}

// Insert returns a set containing v. Idempotent.
func (s OrdSet[T]) Insert(v T) OrdSet[T] {
	at, ok := slices.BinarySearch(s.items, v)
	if ok {
		return s
	}
	items := make([]T, 0, len(s.items)+1)
	items = append(items, s.items[:at]...)
	items = append(items, v)
	items = append(items, s.items[at:]...)
	return OrdSet[T]{items: items}
}

func (s OrdSet[T]) Contains(v T) bool {
	_, ok := slices.BinarySearch(s.items, v)
	return ok
}

func (s OrdSet[T]) Size() int {
	return len(s.items)
}

func (s OrdSet[T]) IsEmpty() bool {
	return len(s.items) == 0
}

// Max returns the largest element; ok is false for the empty set.
func (s OrdSet[T]) Max() (max T, ok bool) {
	if len(s.items) == 0 {
		return max, false
	}
	return s.items[len(s.items)-1], true
}

func (s OrdSet[T]) Equal(other OrdSet[T]) bool {
	return slices.Equal(s.items, other.items)
}

// Subset reports whether every element of s is in other.
func (s OrdSet[T]) Subset(other OrdSet[T]) bool {
	if len(s.items) > len(other.items) {
		return false
	}
	i := 0
	for _, v := range s.items {
		for i < len(other.items) && other.items[i] < v {
			i++
		}
		if i == len(other.items) || other.items[i] != v {
			return false
		}
		i++
	}
	return true
}

func (s OrdSet[T]) Union(other OrdSet[T]) OrdSet[T] {
	items := make([]T, 0, len(s.items)+len(other.items))
	i, j := 0, 0
	for i < len(s.items) && j < len(other.items) {
		switch {
		case s.items[i] < other.items[j]:
			items = append(items, s.items[i])
			i++
		case s.items[i] > other.items[j]:
			items = append(items, other.items[j])
			j++
		default:
			items = append(items, s.items[i])
			i++
			j++
		}
	}
	items = append(items, s.items[i:]...)
	items = append(items, other.items[j:]...)
	return OrdSet[T]{items: items}
}

func (s OrdSet[T]) Intersection(other OrdSet[T]) OrdSet[T] {
	var items []T
	i, j := 0, 0
	for i < len(s.items) && j < len(other.items) {
		switch {
		case s.items[i] < other.items[j]:
			i++
		case s.items[i] > other.items[j]:
			j++
		default:
			items = append(items, s.items[i])
			i++
			j++
		}
	}
	return OrdSet[T]{items: items}
}

// Difference returns the elements of s not present in other.
func (s OrdSet[T]) Difference(other OrdSet[T]) OrdSet[T] {
	var items []T
	j := 0
	for _, v := range s.items {
		for j < len(other.items) && other.items[j] < v {
			j++
		}
		if j < len(other.items) && other.items[j] == v {
			continue
		}
		items = append(items, v)
	}
	return OrdSet[T]{items: items}
}

func (s OrdSet[T]) Disjoint(other OrdSet[T]) bool {
	i, j := 0, 0
	for i < len(s.items) && j < len(other.items) {
		switch {
		case s.items[i] < other.items[j]:
			i++
		case s.items[i] > other.items[j]:
			j++
		default:
			return false
		}
	}
	return true
}

// Slice returns the elements in ascending order. The caller owns the copy.
func (s OrdSet[T]) Slice() []T {
	return slices.Clone(s.items)
}
