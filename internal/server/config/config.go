// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

// Config holds runtime settings for the keyfort server.
//
// Fields:
//   - Driver: database backend, "sqlite" or "postgres".
//   - DatabaseDSN: file path / DSN for the chosen backend.
//   - SessionIDLength / TokenLength: random byte counts for session ids and tokens.
//   - TokenRetention: how many rotated tokens stay valid per session.
//   - StretchThreshold: minimum password stretch enforced at login.
//   - LogLevel: slog level name ("debug", "info", "warn", "error").
//   - LogPII: forward PII-level records. Development only.
type Config struct {
	Driver           string
	DatabaseDSN      string
	SessionIDLength  int
	TokenLength      int
	TokenRetention   int
	StretchThreshold uint64
	LogLevel         string
	LogPII           bool
}

// LoadDefaults populates Config with sensible development defaults.
func (c *Config) LoadDefaults() {
	c.Driver = "sqlite"
	c.DatabaseDSN = "keyfort.db"
	c.SessionIDLength = 128
	c.TokenLength = 128
	c.TokenRetention = 5
	c.StretchThreshold = 65536
	c.LogLevel = "info"
	c.LogPII = false
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
