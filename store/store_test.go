package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local-first-systems/replika"
	"github.com/local-first-systems/replika/causal"
	"github.com/local-first-systems/replika/crdt"
)

const counterID = "\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11\x11"

func rid(b byte) causal.ReplicaID {
	var id causal.ReplicaID
	id[causal.ReplicaIDLen-1] = b
	return id
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	r := replika.NewWithID(rid(0x0a), replika.Options{"retention": "all"})
	require.NoError(t, r.AddCrdt(counterID, crdt.TypeGCounter, replika.AddOptions{
		Meta: map[string]any{"owner": "billing"},
	}))
	for _, op := range []crdt.Inc{{}, {N: 3}, {}} {
		_, err := r.ApplyOp(counterID, op)
		require.NoError(t, err)
	}

	g := crdt.GCounter{}
	foreign, err := g.Encode(crdt.GCounterState{rid(0x0b): 4})
	require.NoError(t, err)
	require.NoError(t, r.ApplyRemote(counterID, causal.NewDot(rid(0x0b), 1), foreign))

	require.NoError(t, Save(db, r))

	back, err := Load(db)
	require.NoError(t, err)

	assert.Equal(t, r.ID(), back.ID())
	assert.Equal(t, "all", back.Policy()["retention"])
	assert.True(t, back.Context().Equal(r.Context()))
	assert.Equal(t, r.Components().Len(), back.Components().Len())

	v, err := back.Value(counterID)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), v)

	b, err := back.FetchCrdt(counterID)
	require.NoError(t, err)
	assert.Equal(t, crdt.TypeGCounter, b.Type)
	assert.Equal(t, "billing", b.Meta["owner"])

	// the restored replica mints where the original left off
	dot, err := back.ApplyOp(counterID, crdt.Inc{})
	require.NoError(t, err)
	assert.Equal(t, causal.NewDot(rid(0x0a), 4), dot)
}

func TestLoadWithoutSnapshotFails(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = Load(db)
	assert.Error(t, err)
}

func TestSaveIsRewritable(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	r := replika.NewWithID(rid(0x0a), nil)
	require.NoError(t, r.AddCrdt(counterID, crdt.TypeGCounter, replika.AddOptions{}))
	require.NoError(t, Save(db, r))

	_, err = r.ApplyOp(counterID, crdt.Inc{N: 2})
	require.NoError(t, err)
	require.NoError(t, Save(db, r))

	back, err := Load(db)
	require.NoError(t, err)
	v, err := back.Value(counterID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}
