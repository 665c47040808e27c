package host

import (
	"context"

	"github.com/local-first-systems/replika/network"
	"github.com/local-first-systems/replika/utils"
)

// session is one anti-entropy conversation. Inbound frames are handled
// on the reader's goroutine; whatever the handler wants sent back goes
// through the outbound queue the write pump feeds from.
type session struct {
	node *Node
	name string
	out  *utils.FrameQueue
}

func (s *session) Feed(ctx context.Context) (network.Frames, error) {
	return s.out.Feed(ctx)
}

func (s *session) Drain(ctx context.Context, frames network.Frames) error {
	for _, frame := range frames {
		responses, err := s.node.HandleFrame(frame)
		if err != nil {
			s.node.log.Warn("sync: bad frame", "name", s.name, "err", err)
			return err
		}
		if len(responses) == 0 {
			continue
		}
		if err := s.out.Drain(ctx, responses); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) Close() error {
	return s.out.Close()
}
