// Package replika hosts multiple independent CRDT instances behind one
// replica identity: it mints causally-unique dots for local mutations,
// keeps an append-only per-CRDT delta log, and produces the digests and
// delta bundles anti-entropy runs on. The core is a single-threaded
// state machine; hosts serialize access (see the host package).
package replika

import "errors"

var (
	ErrInvalidID   = errors.New("replika: invalid replica id")
	ErrInvalidDot  = errors.New("replika: invalid dot")
	ErrInvalidMeta = errors.New("replika: meta must be a mapping")

	ErrCrdtExists  = errors.New("replika: crdt already exists")
	ErrCrdtUnknown = errors.New("replika: unknown crdt")

	ErrDuplicate = errors.New("replika: duplicate log entry")
)
