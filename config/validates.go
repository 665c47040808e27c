package config

import "github.com/local-first-systems/replika/causal"

var knownRetentions = map[string]bool{"all": true, "none": true}

func (c *Config) Validate() error {
	if c.Replica.ID != "" {
		if _, err := causal.ParseReplicaID(c.Replica.ID); err != nil {
			return ErrBadReplicaID
		}
	}
	if c.Sync.IntervalMs <= 0 {
		return ErrBadInterval
	}
	if !knownRetentions[c.Log.Retention] {
		return ErrBadRetention
	}
	if c.Security.Enabled {
		if c.Security.CaCert == "" {
			return ErrMissingCaCert
		}
		if c.Security.Cert == "" {
			return ErrMissingCert
		}
		if c.Security.Key == "" {
			return ErrMissingKey
		}
	}
	return nil
}
