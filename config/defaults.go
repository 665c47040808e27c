package config

var defaultSync = SyncConfig{
	IntervalMs: 30000,
}

var defaultLog = LogConfig{
	Retention: "all",
}

var defaultStorage = StorageConfig{
	Dir: "replika-data",
}

func Default() *Config {
	return &Config{
		Sync:    defaultSync,
		Log:     defaultLog,
		Storage: defaultStorage,
	}
}

func (c *SyncConfig) PopulateDefaults() {
	if c.IntervalMs == 0 {
		c.IntervalMs = defaultSync.IntervalMs
	}
}

func (c *LogConfig) PopulateDefaults() {
	if c.Retention == "" {
		c.Retention = defaultLog.Retention
	}
}

func (c *StorageConfig) PopulateDefaults() {
	if c.Dir == "" {
		c.Dir = defaultStorage.Dir
	}
}

func (c *Config) PopulateDefaults() {
	c.Sync.PopulateDefaults()
	c.Log.PopulateDefaults()
	c.Storage.PopulateDefaults()
}
