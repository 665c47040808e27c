package network

import (
	"bytes"

	"github.com/local-first-systems/replika/protocol"
)

// SplitFrames consumes complete envelopes from the stream buffer. A
// partial header or payload leaves the remainder buffered for the next
// read; a malformed header fails the connection.
func SplitFrames(buf *bytes.Buffer) (frames Frames, err error) {
	for buf.Len() >= protocol.HeaderLen {
		h, err := protocol.ParseHeader(buf.Bytes())
		if err != nil {
			return frames, err
		}
		total := protocol.HeaderLen + int(h.PayloadLength)
		if buf.Len() < total {
			break
		}
		frame := make([]byte, total)
		if _, err := buf.Read(frame); err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
