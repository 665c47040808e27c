package host

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local-first-systems/replika"
	"github.com/local-first-systems/replika/causal"
	"github.com/local-first-systems/replika/crdt"
	"github.com/local-first-systems/replika/protocol"
	"github.com/local-first-systems/replika/utils"
)

const counterID = "\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11"

func rid(b byte) causal.ReplicaID {
	var id causal.ReplicaID
	id[causal.ReplicaIDLen-1] = b
	return id
}

func newNode(t *testing.T, last byte) *Node {
	t.Helper()
	r := replika.NewWithID(rid(last), nil)
	require.NoError(t, r.AddCrdt(counterID, crdt.TypeGCounter, replika.AddOptions{}))
	n, err := NewNode(r, utils.NewDefaultLogger(slog.LevelError), NodeOptions{})
	require.NoError(t, err)
	return n
}

func decodeOne(t *testing.T, frames [][]byte) protocol.Message {
	t.Helper()
	require.Len(t, frames, 1)
	msg, err := protocol.Decode(frames[0])
	require.NoError(t, err)
	return msg
}

func TestNodeAnswersDigestRequest(t *testing.T) {
	n := newNode(t, 0x0a)
	_, err := n.ApplyOp(counterID, crdt.Inc{N: 2})
	require.NoError(t, err)

	req, err := protocol.Encode(protocol.DigestRequest{})
	require.NoError(t, err)
	out, err := n.HandleFrame(req)
	require.NoError(t, err)

	msg := decodeOne(t, out)
	resp, ok := msg.Payload.(protocol.DigestResponse)
	require.True(t, ok)
	assert.Equal(t, uint64(1), resp.Digest[counterID].Counter)
}

func TestNodeFollowsDigestResponseWithSyncRequest(t *testing.T) {
	n := newNode(t, 0x0b)

	ahead, err := protocol.Encode(protocol.DigestResponse{Digest: causal.Digest{
		counterID: {Origin: rid(0x0a), Counter: 3},
	}})
	require.NoError(t, err)
	out, err := n.HandleFrame(ahead)
	require.NoError(t, err)

	msg := decodeOne(t, out)
	req, ok := msg.Payload.(protocol.SyncRequest)
	require.True(t, ok)
	assert.Equal(t, protocol.SyncDelta, req.SyncType)
	assert.True(t, req.IncludeDigest)

	// a peer with nothing new draws no request
	even, err := protocol.Encode(protocol.DigestResponse{Digest: n.Digest()})
	require.NoError(t, err)
	out, err = n.HandleFrame(even)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNodeServesSyncRequest(t *testing.T) {
	n := newNode(t, 0x0a)
	for i := 0; i < 3; i++ {
		_, err := n.ApplyOp(counterID, crdt.Inc{})
		require.NoError(t, err)
	}

	req, err := protocol.Encode(protocol.SyncRequest{
		SyncType:      protocol.SyncDelta,
		IncludeDigest: true,
		Digest:        causal.Digest{counterID: {Origin: rid(0x0a), Counter: 1}},
	})
	require.NoError(t, err)
	out, err := n.HandleFrame(req)
	require.NoError(t, err)

	msg := decodeOne(t, out)
	resp, ok := msg.Payload.(protocol.SyncResponse)
	require.True(t, ok)
	require.Len(t, resp.Bundle[counterID], 2)
	assert.True(t, resp.HasDigest)

	// the second identical request hits the cache
	before := testCounterValue(t, n)
	out2, err := n.HandleFrame(req)
	require.NoError(t, err)
	assert.Equal(t, out, out2)
	assert.Equal(t, before, testCounterValue(t, n))
}

func TestNodeFullSyncPath(t *testing.T) {
	n := newNode(t, 0x0a)
	_, err := n.ApplyOp(counterID, crdt.Inc{N: 4})
	require.NoError(t, err)

	req, err := protocol.Encode(protocol.SyncRequest{SyncType: protocol.SyncFull})
	require.NoError(t, err)
	out, err := n.HandleFrame(req)
	require.NoError(t, err)

	msg := decodeOne(t, out)
	resp := msg.Payload.(protocol.SyncResponse)
	require.Len(t, resp.Bundle[counterID], 1)
}

func TestNodeIngestsSyncResponse(t *testing.T) {
	a := newNode(t, 0x0a)
	for i := 0; i < 3; i++ {
		_, err := a.ApplyOp(counterID, crdt.Inc{})
		require.NoError(t, err)
	}
	b := newNode(t, 0x0b)

	req, err := protocol.Encode(protocol.SyncRequest{SyncType: protocol.SyncFull})
	require.NoError(t, err)
	out, err := a.HandleFrame(req)
	require.NoError(t, err)

	// feeding A's response into B converges B
	more, err := b.HandleFrame(out[0])
	require.NoError(t, err)
	assert.Empty(t, more)
	assert.Equal(t, uint64(3), testCounterValue(t, b))

	// replaying it is harmless
	_, err = b.HandleFrame(out[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(3), testCounterValue(t, b))
}

func TestNodeRejectsBadFrame(t *testing.T) {
	n := newNode(t, 0x0a)
	_, err := n.HandleFrame(make([]byte, protocol.HeaderLen))
	assert.ErrorIs(t, err, protocol.ErrInvalidVersion)
}

func TestNodeEndToEndExchange(t *testing.T) {
	a := newNode(t, 0x0a)
	b := newNode(t, 0x0b)
	for i := 0; i < 2; i++ {
		_, err := a.ApplyOp(counterID, crdt.Inc{N: 3})
		require.NoError(t, err)
	}

	// B opens: DigestRequest -> A's digest -> B's SyncRequest -> A's
	// SyncResponse -> B ingests.
	open, err := protocol.Encode(protocol.DigestRequest{})
	require.NoError(t, err)
	digestResp, err := a.HandleFrame(open)
	require.NoError(t, err)
	syncReq, err := b.HandleFrame(digestResp[0])
	require.NoError(t, err)
	require.Len(t, syncReq, 1)
	syncResp, err := a.HandleFrame(syncReq[0])
	require.NoError(t, err)
	final, err := b.HandleFrame(syncResp[0])
	require.NoError(t, err)
	assert.Empty(t, final)

	assert.Equal(t, uint64(6), testCounterValue(t, b))
}

func testCounterValue(t *testing.T, n *Node) uint64 {
	t.Helper()
	v, err := n.Value(counterID)
	require.NoError(t, err)
	return v.(uint64)
}
