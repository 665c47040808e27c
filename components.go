package replika

import (
	"fmt"
	"slices"

	"github.com/local-first-systems/replika/causal"
)

// LogEntry is one recorded delta within a (crdt, origin) lane.
type LogEntry struct {
	Counter uint64
	Delta   []byte
}

// Components is the append-only per-CRDT delta log, a three-level map
// crdt id → origin → counter → delta. Appends need not arrive in
// counter order within an origin; callers dedupe through the causal
// context, the log only refuses to record the same counter twice.
type Components struct {
	logs map[string]map[causal.ReplicaID]map[uint64][]byte
}

func NewComponents() *Components {
	return &Components{logs: make(map[string]map[causal.ReplicaID]map[uint64][]byte)}
}

// Append records delta at (crdtID, origin, counter). The counter must be
// positive; re-appending a recorded counter fails with ErrDuplicate and
// leaves the log untouched.
func (c *Components) Append(crdtID string, origin causal.ReplicaID, counter uint64, delta []byte) error {
	if counter == 0 {
		return fmt.Errorf("%w: counter 0", ErrInvalidDot)
	}
	byOrigin, ok := c.logs[crdtID]
	if !ok {
		byOrigin = make(map[causal.ReplicaID]map[uint64][]byte)
		c.logs[crdtID] = byOrigin
	}
	lane, ok := byOrigin[origin]
	if !ok {
		lane = make(map[uint64][]byte)
		byOrigin[origin] = lane
	}
	if _, ok := lane[counter]; ok {
		return fmt.Errorf("%w: %x/%s/%d", ErrDuplicate, crdtID, origin, counter)
	}
	lane[counter] = delta
	return nil
}

// Since lists the entries of one (crdt, origin) lane with counters
// strictly above after, ascending.
func (c *Components) Since(crdtID string, origin causal.ReplicaID, after uint64) []LogEntry {
	lane := c.logs[crdtID][origin]
	if len(lane) == 0 {
		return nil
	}
	entries := make([]LogEntry, 0, len(lane))
	for counter, delta := range lane {
		if counter > after {
			entries = append(entries, LogEntry{Counter: counter, Delta: delta})
		}
	}
	slices.SortFunc(entries, func(a, b LogEntry) int {
		switch {
		case a.Counter < b.Counter:
			return -1
		case a.Counter > b.Counter:
			return 1
		}
		return 0
	})
	if len(entries) == 0 {
		return nil
	}
	return entries
}

// SinceDigest derives a bundle of everything the log holds beyond the
// digest. Per known CRDT the cut is taken from a single origin lane:
// the digest's own mark when present, otherwise (first origin of the
// digest in sorted crdt-id order, 0). An empty digest is the full-sync
// path and yields every lane of every CRDT.
func (c *Components) SinceDigest(digest causal.Digest) causal.Bundle {
	bundle := causal.NewBundle()
	if len(digest) == 0 {
		for crdtID, byOrigin := range c.logs {
			var items []causal.BundleItem
			for _, origin := range sortedOrigins(byOrigin) {
				for _, e := range c.Since(crdtID, origin, 0) {
					items = append(items, causal.BundleItem{
						Dot:   causal.NewDot(origin, e.Counter),
						Delta: e.Delta,
					})
				}
			}
			if len(items) > 0 {
				bundle[crdtID] = items
			}
		}
		return bundle
	}

	fallback := digest[digest.SortedIDs()[0]].Origin
	for crdtID := range c.logs {
		origin, after := fallback, uint64(0)
		if mark, ok := digest[crdtID]; ok {
			origin, after = mark.Origin, mark.Counter
		}
		var items []causal.BundleItem
		for _, e := range c.Since(crdtID, origin, after) {
			items = append(items, causal.BundleItem{
				Dot:   causal.NewDot(origin, e.Counter),
				Delta: e.Delta,
			})
		}
		if len(items) > 0 {
			bundle[crdtID] = items
		}
	}
	return bundle
}

// Origins lists the origins recorded for a CRDT, in id order.
func (c *Components) Origins(crdtID string) []causal.ReplicaID {
	return sortedOrigins(c.logs[crdtID])
}

// MaxCounter returns the largest recorded counter of a lane, 0 if none.
func (c *Components) MaxCounter(crdtID string, origin causal.ReplicaID) (max uint64) {
	for counter := range c.logs[crdtID][origin] {
		if counter > max {
			max = counter
		}
	}
	return
}

// Frontier maps each origin of a CRDT to its largest recorded counter.
func (c *Components) Frontier(crdtID string) map[causal.ReplicaID]uint64 {
	byOrigin := c.logs[crdtID]
	if len(byOrigin) == 0 {
		return nil
	}
	frontier := make(map[causal.ReplicaID]uint64, len(byOrigin))
	for origin := range byOrigin {
		frontier[origin] = c.MaxCounter(crdtID, origin)
	}
	return frontier
}

// CrdtIDs lists the CRDTs the log knows, in id order.
func (c *Components) CrdtIDs() []string {
	ids := make([]string, 0, len(c.logs))
	for id := range c.logs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len counts recorded entries across all lanes.
func (c *Components) Len() (n int) {
	for _, byOrigin := range c.logs {
		for _, lane := range byOrigin {
			n += len(lane)
		}
	}
	return
}

func (c *Components) Clone() *Components {
	next := NewComponents()
	for crdtID, byOrigin := range c.logs {
		nextByOrigin := make(map[causal.ReplicaID]map[uint64][]byte, len(byOrigin))
		for origin, lane := range byOrigin {
			nextLane := make(map[uint64][]byte, len(lane))
			for counter, delta := range lane {
				nextLane[counter] = delta
			}
			nextByOrigin[origin] = nextLane
		}
		next.logs[crdtID] = nextByOrigin
	}
	return next
}

func sortedOrigins(byOrigin map[causal.ReplicaID]map[uint64][]byte) []causal.ReplicaID {
	if len(byOrigin) == 0 {
		return nil
	}
	origins := make([]causal.ReplicaID, 0, len(byOrigin))
	for origin := range byOrigin {
		origins = append(origins, origin)
	}
	slices.SortFunc(origins, causal.ReplicaID.Compare)
	return origins
}
