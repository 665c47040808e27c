package replika

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

func crdtID(b byte) string {
	raw := make([]byte, 16)
	for i := range raw {
		raw[i] = b
	}
	return string(raw)
}

func TestComponentsAppendRejectsDuplicates(t *testing.T) {
	log := NewComponents()
	require.NoError(t, log.Append(crdtID(1), rid(1), 1, []byte{1}))
	err := log.Append(crdtID(1), rid(1), 1, []byte{2})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, log.Len())
}

func TestComponentsAppendRejectsZeroCounter(t *testing.T) {
	err := NewComponents().Append(crdtID(1), rid(1), 0, []byte{1})
	assert.ErrorIs(t, err, ErrInvalidDot)
}

func TestComponentsAcceptsOutOfOrderAppends(t *testing.T) {
	log := NewComponents()
	require.NoError(t, log.Append(crdtID(1), rid(1), 3, []byte{3}))
	require.NoError(t, log.Append(crdtID(1), rid(1), 1, []byte{1}))

	entries := log.Since(crdtID(1), rid(1), 0)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Counter)
	assert.Equal(t, uint64(3), entries[1].Counter)
}

func TestComponentsSinceIsExclusive(t *testing.T) {
	log := NewComponents()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, log.Append(crdtID(1), rid(1), i, []byte{byte(i)}))
	}

	entries := log.Since(crdtID(1), rid(1), 2)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(3), entries[0].Counter)

	assert.Nil(t, log.Since(crdtID(1), rid(1), 3))
	assert.Nil(t, log.Since(crdtID(9), rid(1), 0))
}

func TestComponentsSinceDigestEmptyDigestIsFullSync(t *testing.T) {
	log := NewComponents()
	require.NoError(t, log.Append(crdtID(1), rid(1), 1, []byte{1}))
	require.NoError(t, log.Append(crdtID(1), rid(2), 1, []byte{2}))
	require.NoError(t, log.Append(crdtID(2), rid(1), 1, []byte{3}))

	bundle := log.SinceDigest(causal.NewDigest())
	assert.Equal(t, 3, bundle.Items())
	assert.Len(t, bundle[crdtID(1)], 2)
	assert.Len(t, bundle[crdtID(2)], 1)
}

func TestComponentsSinceDigestCutsAtMark(t *testing.T) {
	log := NewComponents()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, log.Append(crdtID(1), rid(1), i, []byte{byte(i)}))
	}

	bundle := log.SinceDigest(causal.Digest{
		crdtID(1): {Origin: rid(1), Counter: 2},
	})
	require.Len(t, bundle[crdtID(1)], 1)
	assert.Equal(t, uint64(3), bundle[crdtID(1)][0].Dot.Seq)
}

func TestComponentsSinceDigestFallsBackToFirstOrigin(t *testing.T) {
	log := NewComponents()
	require.NoError(t, log.Append(crdtID(2), rid(1), 1, []byte{1}))
	require.NoError(t, log.Append(crdtID(2), rid(2), 1, []byte{2}))

	// crdt 2 is absent from the digest: everything from the digest's
	// first origin is sent, nothing from other origins.
	bundle := log.SinceDigest(causal.Digest{
		crdtID(1): {Origin: rid(1), Counter: 5},
	})
	require.Len(t, bundle[crdtID(2)], 1)
	assert.Equal(t, rid(1), bundle[crdtID(2)][0].Dot.Src)
}

func TestComponentsFrontier(t *testing.T) {
	log := NewComponents()
	require.NoError(t, log.Append(crdtID(1), rid(1), 2, nil))
	require.NoError(t, log.Append(crdtID(1), rid(1), 5, nil))
	require.NoError(t, log.Append(crdtID(1), rid(2), 1, nil))

	assert.Equal(t, map[causal.ReplicaID]uint64{rid(1): 5, rid(2): 1}, log.Frontier(crdtID(1)))
	assert.Equal(t, uint64(5), log.MaxCounter(crdtID(1), rid(1)))
	assert.Equal(t, uint64(0), log.MaxCounter(crdtID(1), rid(9)))
	assert.Equal(t, []causal.ReplicaID{rid(1), rid(2)}, log.Origins(crdtID(1)))
	assert.Nil(t, log.Frontier(crdtID(9)))
}

func TestComponentsClone(t *testing.T) {
	log := NewComponents()
	require.NoError(t, log.Append(crdtID(1), rid(1), 1, []byte{1}))

	clone := log.Clone()
	require.NoError(t, clone.Append(crdtID(1), rid(1), 2, []byte{2}))
	assert.Equal(t, 1, log.Len())
	assert.Equal(t, 2, clone.Len())
}
