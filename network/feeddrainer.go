package network

import (
	"context"
	"io"
)

// Frames is a batch of encoded protocol envelopes.
type Frames = [][]byte

// Feeder produces outbound frames for a connection. A non-nil error ends
// the connection's write pump; frames returned together with an error
// are not written.
type Feeder interface {
	Feed(ctx context.Context) (Frames, error)
}

// Drainer consumes inbound frames from a connection.
type Drainer interface {
	Drain(ctx context.Context, frames Frames) error
}

// FeedDrainCloser is the per-connection session contract: the transport
// pulls outbound frames through Feed, pushes inbound frames through
// Drain, and Closes the session when the connection dies.
type FeedDrainCloser interface {
	Feeder
	Drainer
	io.Closer
}
