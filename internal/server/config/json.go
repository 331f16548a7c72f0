package config

import (
	"encoding/json"
	"os"

	"github.com/apetrenko/keyfort/internal/flagx"
)

// JsonConfig is the intermediate DTO for reading JSON configuration files.
// Absent fields keep their current (default) values.
type JsonConfig struct {
	Driver           *string `json:"driver"`
	DatabaseDSN      *string `json:"database_dsn"`
	SessionIDLength  *int    `json:"sessionid_length"`
	TokenLength      *int    `json:"token_length"`
	TokenRetention   *int    `json:"token_retention"`
	StretchThreshold *uint64 `json:"stretch_threshold"`
	LogLevel         *string `json:"log_level"`
	LogPII           *bool   `json:"log_pii"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; without them no JSON file is loaded. An unreadable or invalid
// file panics: a half-applied config must not start a credential server.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.Driver != nil {
		config.Driver = *c.Driver
	}
	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	if c.SessionIDLength != nil {
		config.SessionIDLength = *c.SessionIDLength
	}
	if c.TokenLength != nil {
		config.TokenLength = *c.TokenLength
	}
	if c.TokenRetention != nil {
		config.TokenRetention = *c.TokenRetention
	}
	if c.StretchThreshold != nil {
		config.StretchThreshold = *c.StretchThreshold
	}
	if c.LogLevel != nil {
		config.LogLevel = *c.LogLevel
	}
	if c.LogPII != nil {
		config.LogPII = *c.LogPII
	}
}
