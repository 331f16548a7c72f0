package config

import (
	"flag"
	"os"

	"github.com/apetrenko/keyfort/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-b string   database backend, "sqlite" or "postgres"
//	-d string   database DSN (file path for sqlite)
//	-i int      session id length, bytes
//	-t int      session token length, bytes
//	-n int      rotated tokens kept valid per session
//	-s uint     minimum password stretch
//	-l string   log level ("debug", "info", "warn", "error")
//	-pii        forward PII log records (development only)
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-b", "-d", "-i", "-t", "-n", "-s", "-l", "-pii"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.Driver, "b", config.Driver, "database backend (sqlite or postgres)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.IntVar(&config.SessionIDLength, "i", config.SessionIDLength, "session id length in bytes")
	fs.IntVar(&config.TokenLength, "t", config.TokenLength, "session token length in bytes")
	fs.IntVar(&config.TokenRetention, "n", config.TokenRetention, "rotated tokens kept per session")
	fs.Uint64Var(&config.StretchThreshold, "s", config.StretchThreshold, "minimum password stretch")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.BoolVar(&config.LogPII, "pii", config.LogPII, "forward PII log records")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
