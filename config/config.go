// Package config reads and validates the node configuration.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/local-first-systems/replika"
	"github.com/local-first-systems/replika/causal"
)

type Config struct {
	Replica  ReplicaConfig  `yaml:"replica"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Security SecurityConfig `yaml:"security"`
}

type ReplicaConfig struct {
	// ID is the 16-byte replica id as lowercase hex; minted when empty.
	ID string `yaml:"id"`
}

type SyncConfig struct {
	ListenAddrs []string `yaml:"listen"`
	Peers       []string `yaml:"peers"`
	IntervalMs  int      `yaml:"interval_ms"`
	// Full requests whole-log sync instead of digest-bounded deltas.
	Full bool `yaml:"full"`
}

// LogConfig lands in the replica's policy bag. The core stores policy
// without enforcing it; retention is a host concern.
type LogConfig struct {
	Retention  string `yaml:"retention"`
	MaxEntries int    `yaml:"max_entries"`
}

type StorageConfig struct {
	Dir string `yaml:"dir"`
}

type SecurityConfig struct {
	Enabled bool   `yaml:"enabled"`
	CaCert  string `yaml:"ca_cert"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ReplicaID parses (or, for an empty config, mints) the replica id.
func (c *Config) ReplicaID() (causal.ReplicaID, error) {
	if c.Replica.ID == "" {
		return causal.NewReplicaID(), nil
	}
	return causal.ParseReplicaID(c.Replica.ID)
}

// Policy renders the log section into the replica's policy bag.
func (c *Config) Policy() replika.Options {
	return replika.Options{
		"retention":   c.Log.Retention,
		"max_entries": strconv.Itoa(c.Log.MaxEntries),
	}
}
