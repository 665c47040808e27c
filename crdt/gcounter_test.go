package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local-first-systems/replika/causal"
)

func rid(b byte) causal.ReplicaID {
	var id causal.ReplicaID
	id[causal.ReplicaIDLen-1] = b
	return id
}

func TestRegistryLookup(t *testing.T) {
	impl, err := Lookup(TypeGCounter)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), impl.Version())

	_, err = Lookup("no-such-type")
	assert.ErrorIs(t, err, ErrTypeUnknown)

	assert.Contains(t, Known(), TypeGCounter)
}

func TestGCounterZeroValue(t *testing.T) {
	g := GCounter{}
	assert.Equal(t, uint64(0), g.Value(g.Zero()))
}

func TestGCounterMutate(t *testing.T) {
	g := GCounter{}
	state := g.Zero()

	state, delta, err := g.Mutate(state, Inc{}, causal.NewDot(rid(1), 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g.Value(state))

	state, _, err = g.Mutate(state, Inc{N: 3}, causal.NewDot(rid(1), 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), g.Value(state))

	// the first delta carries the origin's share as of dot 1
	d, err := g.Decode(delta)
	require.NoError(t, err)
	assert.Equal(t, GCounterState{rid(1): 1}, d)
}

func TestGCounterMutateRejectsForeignOp(t *testing.T) {
	g := GCounter{}
	_, _, err := g.Mutate(g.Zero(), "inc", causal.NewDot(rid(1), 1))
	assert.ErrorIs(t, err, ErrBadOp)

	_, _, err = g.Mutate(42, Inc{}, causal.NewDot(rid(1), 1))
	assert.ErrorIs(t, err, ErrBadState)
}

func TestGCounterApplyDeltaIsMonotone(t *testing.T) {
	g := GCounter{}
	state := GCounterState{rid(1): 5}

	stale, err := g.Encode(GCounterState{rid(1): 2})
	require.NoError(t, err)
	next, err := g.ApplyDelta(state, stale, causal.NewContext())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), g.Value(next))

	fresh, err := g.Encode(GCounterState{rid(2): 3})
	require.NoError(t, err)
	next, err = g.ApplyDelta(next, fresh, causal.NewContext())
	require.NoError(t, err)
	assert.Equal(t, uint64(8), g.Value(next))

	// idempotent over (state, delta)
	again, err := g.ApplyDelta(next, fresh, causal.NewContext())
	require.NoError(t, err)
	assert.Equal(t, next, again)
}

func TestGCounterJoinLaws(t *testing.T) {
	g := GCounter{}
	a := GCounterState{rid(1): 2, rid(2): 1}
	b := GCounterState{rid(1): 1, rid(3): 4}

	ab, err := g.Join(a, b)
	require.NoError(t, err)
	ba, err := g.Join(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Equal(t, uint64(7), g.Value(ab))

	self, err := g.Join(a, a)
	require.NoError(t, err)
	assert.Equal(t, g.Value(a), g.Value(self))
}

func TestGCounterCodecRoundTrip(t *testing.T) {
	g := GCounter{}
	state := GCounterState{rid(1): 2, rid(2): 9}

	data, err := g.Encode(state)
	require.NoError(t, err)
	back, err := g.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, state, back)

	// deterministic
	again, err := g.Encode(state)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestGCounterDecodeRejects(t *testing.T) {
	g := GCounter{}
	data, err := g.Encode(GCounterState{rid(1): 2})
	require.NoError(t, err)

	bad := append([]byte{}, data...)
	bad[1] = 7
	_, err = g.Decode(bad)
	assert.ErrorIs(t, err, causal.ErrUnsupportedVersion)

	_, err = g.Decode(data[:len(data)-3])
	assert.ErrorIs(t, err, causal.ErrTruncated)

	_, err = g.Decode(append(data, 0))
	assert.ErrorIs(t, err, causal.ErrTrailingBytes)

	dup := append([]byte{}, data...)
	dup[5] = 2
	dup = append(dup, data[6:]...)
	_, err = g.Decode(dup)
	assert.ErrorIs(t, err, causal.ErrDuplicateKey)
}
