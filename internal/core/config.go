package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	BaseDirName     = ".config/frpdeck"
	ConfigFileName  = "config.hcl"
	TunnelsFileName = "tunnels.json"
	DatabaseName    = "frpdeck.db"
	PidFileName     = "daemon.pid"
	SocketName      = "daemon.sock"
)

// Config is the global configuration instance.
var Config *Configuration

// Configuration holds the application-level settings. The tunnel slot
// table itself lives in tunnels.json and is owned by the registry,
// not by this struct.
type Configuration struct {
	ConfigPath  string        // directory containing config, table, socket and database
	Verbose     int           // verbosity level
	Slots       int           // fixed number of tunnel slots
	ProbeDelay  time.Duration // delay before the post-start endpoint extraction pass
	HistorySize int           // per-tunnel output line history for late log viewers
	Database    bool          // enable the sqlite event journal
}

// HCL parsing struct. Durations are strings in the file ("1s").
type hclConfig struct {
	Verbose     int    `hcl:"verbose,optional"`
	Slots       int    `hcl:"slots,optional"`
	ProbeDelay  string `hcl:"probe_delay,optional"`
	HistorySize int    `hcl:"history_size,optional"`
	Database    *bool  `hcl:"database,optional"`
}

// GetSocketPath returns the daemon control socket path.
func GetSocketPath() string {
	return filepath.Join(Config.ConfigPath, SocketName)
}

// GetPIDFilePath returns the daemon pid file path.
func GetPIDFilePath() string {
	return filepath.Join(Config.ConfigPath, PidFileName)
}

// GetTunnelsPath returns the persisted slot table path.
func GetTunnelsPath() string {
	return filepath.Join(Config.ConfigPath, TunnelsFileName)
}

// GetDatabasePath returns the event journal path.
func GetDatabasePath() string {
	return filepath.Join(Config.ConfigPath, DatabaseName)
}

// DefaultConfig returns a Configuration with default values.
func DefaultConfig(configPath string) *Configuration {
	return &Configuration{
		ConfigPath:  configPath,
		Slots:       8,
		ProbeDelay:  time.Second,
		HistorySize: 1000,
		Database:    true,
	}
}

// LoadConfig reads config.hcl from configPath. A missing file is not
// an error: defaults apply, and the config directory is created so
// the table and socket have somewhere to live.
func LoadConfig(configPath string) (*Configuration, error) {
	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := DefaultConfig(configPath)

	filename := filepath.Join(configPath, ConfigFileName)
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return cfg, nil
	}

	var hclCfg hclConfig
	if err := hclsimple.DecodeFile(filename, nil, &hclCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Verbose = hclCfg.Verbose
	if hclCfg.Slots > 0 {
		cfg.Slots = hclCfg.Slots
	}
	if hclCfg.ProbeDelay != "" {
		delay, err := time.ParseDuration(hclCfg.ProbeDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid probe_delay %q: %w", hclCfg.ProbeDelay, err)
		}
		cfg.ProbeDelay = delay
	}
	if hclCfg.HistorySize > 0 {
		cfg.HistorySize = hclCfg.HistorySize
	}
	if hclCfg.Database != nil {
		cfg.Database = *hclCfg.Database
	}

	return cfg, nil
}
