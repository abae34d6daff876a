package config

// ParseDatabaseURLForTest exposes parseDatabaseURL to external tests.
func (c *Config) ParseDatabaseURLForTest() error { return c.parseDatabaseURL() }
