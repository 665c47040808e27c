package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replika.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadPopulatesDefaults(t *testing.T) {
	cfg, err := Read(writeConfig(t, `
replica:
  id: "0000000000000000000000000000000a"
sync:
  peers: ["tcp://10.0.0.2:9737"]
`))
	require.NoError(t, err)

	assert.Equal(t, 30000, cfg.Sync.IntervalMs)
	assert.Equal(t, "all", cfg.Log.Retention)
	assert.Equal(t, "replika-data", cfg.Storage.Dir)
	assert.Equal(t, []string{"tcp://10.0.0.2:9737"}, cfg.Sync.Peers)

	id, err := cfg.ReplicaID()
	require.NoError(t, err)
	assert.Equal(t, "0000000000000000000000000000000a", id.String())
}

func TestReadRejectsBadReplicaID(t *testing.T) {
	_, err := Read(writeConfig(t, `
replica:
  id: "not-hex"
`))
	assert.ErrorIs(t, err, ErrBadReplicaID)
}

func TestReadRejectsBadRetention(t *testing.T) {
	_, err := Read(writeConfig(t, `
log:
  retention: "hourly"
`))
	assert.ErrorIs(t, err, ErrBadRetention)
}

func TestReadRejectsIncompleteTLS(t *testing.T) {
	_, err := Read(writeConfig(t, `
security:
  enabled: true
  ca_cert: "ca.pem"
  cert: "node.pem"
`))
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestEmptyIDMintsOne(t *testing.T) {
	cfg := Default()
	a, err := cfg.ReplicaID()
	require.NoError(t, err)
	b, err := cfg.ReplicaID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPolicyRendersLogSection(t *testing.T) {
	cfg := Default()
	cfg.Log.MaxEntries = 4096

	policy := cfg.Policy()
	assert.Equal(t, "all", policy["retention"])
	assert.Equal(t, "4096", policy["max_entries"])
}
