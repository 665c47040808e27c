package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Peer pumps frames between one net.Conn and its session: a read loop
// splitting inbound envelopes into Drain calls, and a write loop
// flushing whatever the session Feeds.
type Peer struct {
	closed atomic.Bool
	wg     sync.WaitGroup

	conn    net.Conn
	session FeedDrainCloser
}

func (p *Peer) keepRead(ctx context.Context) error {
	var buf bytes.Buffer
	chunk := make([]byte, readChunkSize)

	for !p.closed.Load() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := p.conn.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				time.Sleep(time.Millisecond)
				continue
			}
			return err
		}

		frames, err := SplitFrames(&buf)
		if err != nil {
			return err
		}
		if len(frames) == 0 {
			continue
		}
		if err := p.session.Drain(ctx, frames); err != nil {
			return err
		}
	}

	return nil
}

func (p *Peer) keepWrite(ctx context.Context) error {
	for !p.closed.Load() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		frames, err := p.session.Feed(ctx)
		if err != nil {
			return err
		}

		b := net.Buffers(frames)
		for len(b) > 0 {
			if _, err := b.WriteTo(p.conn); err != nil {
				return err
			}
		}
	}

	return nil
}

// Keep runs both pumps until either fails, then tears the peer down.
func (p *Peer) Keep(ctx context.Context) (rerr, werr, cerr error) {
	p.wg.Add(2)
	defer p.wg.Add(-2)

	if p.closed.Load() {
		return nil, nil, nil
	}

	readErrCh, writeErrCh := make(chan error, 1), make(chan error, 1)
	go func() { readErrCh <- p.keepRead(ctx) }()
	go func() { writeErrCh <- p.keepWrite(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case rerr = <-readErrCh:
			if errors.Is(rerr, net.ErrClosed) {
				// we probably closed it ourselves
				rerr = nil
			}
		case werr = <-writeErrCh:
			// closing after the writer stops cancels the reader too
			cerr = p.conn.Close()
		}

		p.closed.Store(true)
	}
	p.conn = nil
	return
}

func (p *Peer) Close() {
	p.closed.Store(true)
	p.wg.Wait()

	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
