package bridgecore

import (
	"os"
	"strconv"
	"time"
)

// Mode selects whether the bridge core runs a single shared Matter
// server node (bridge mode) or one node per childbridge-eligible plugin
// (childbridge mode), per spec §2/§4.5.
type Mode string

const (
	ModeBridge      Mode = "bridge"
	ModeChildbridge Mode = "childbridge"
)

// Config is the Bridge Core's fully resolved startup configuration,
// assembled by cmd/matterbridge from CLI flags and environment variables
// following the getEnv/getEnvInt helper convention in api/cmd/main.go.
type Config struct {
	Mode    Mode
	HomeDir string
	Profile string

	FrontendPort  int
	Passcode      int
	Discriminator int

	MDNSInterface string
	IPv4Address   string
	IPv6Address   string

	LoggerLevel       string
	MatterLoggerLevel string
	Debug             bool
	Verbose           bool
	SSL               bool
	NoSudo            bool
	Docker            bool
	NoVirtual         bool
	MemoryCheck       bool
	Inspect           bool

	SnapshotInterval time.Duration

	// ControlPlanePassword gates websocket sessions when non-empty (spec
	// §4.7).
	ControlPlanePassword string

	// StartMatterInterval/PauseMatterInterval are read from
	// MATTERBRIDGE_START_MATTER_INTERVAL_MS/MATTERBRIDGE_PAUSE_MATTER_INTERVAL_MS.
	// Core does not use them: per-plugin server nodes start without any
	// stagger or pause.
	StartMatterInterval time.Duration
	PauseMatterInterval time.Duration
}

// getEnv returns the environment variable named key, or def if unset,
// following api/cmd/main.go's helper of the same name.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt parses the environment variable named key as an integer,
// returning def on absence or parse failure.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// DefaultConfig returns a Config with every field set to the spec's
// documented defaults, intended to be overridden by parsed flags.
func DefaultConfig() Config {
	return Config{
		Mode:                ModeBridge,
		HomeDir:             getEnv("MATTERBRIDGE_HOMEDIR", "."),
		FrontendPort:        8283,
		Passcode:            20242025,
		Discriminator:       3840,
		LoggerLevel:         "info",
		MatterLoggerLevel:   "info",
		SnapshotInterval:    0,
		StartMatterInterval: time.Duration(getEnvInt("MATTERBRIDGE_START_MATTER_INTERVAL_MS", 500)) * time.Millisecond,
		PauseMatterInterval: time.Duration(getEnvInt("MATTERBRIDGE_PAUSE_MATTER_INTERVAL_MS", 250)) * time.Millisecond,
	}
}
