// Package config resolves dashboard settings from QD_* environment
// variables and derives the working directory layout.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/caarlos0/env/v11"
)

// DefaultPlatformsDirName is where the platforms checkout lives when
// QIBOLAB_PLATFORMS is not set, relative to the served root.
const DefaultPlatformsDirName = "qibolab_platforms_qrc"

// Config carries the dashboard settings. Flags in main may override
// individual fields after parsing.
type Config struct {
	Host      string `env:"QD_BIND" envDefault:"127.0.0.1"`
	Port      int    `env:"QD_PORT" envDefault:"5005"`
	Root      string `env:"QD_PATH"`
	AuthKey   string `env:"QD_KEY"`
	DataRoot  string `env:"QD_DATA"`
	Platforms string `env:"QIBOLAB_PLATFORMS"`
	User      string `env:"USER"`
	Debug     bool   `env:"QD_DEBUG" envDefault:"false"`

	// Environment names a ~/.env virtualenv that job scripts activate
	// when a runcard does not pick one itself.
	Environment string `env:"QD_ENV"`
}

// FromEnv parses the environment and fills home-relative defaults.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Root == "" || cfg.DataRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("resolve home: %w", err)
		}
		if cfg.Root == "" {
			cfg.Root = home
		}
		if cfg.DataRoot == "" {
			cfg.DataRoot = filepath.Join(home, ".qdashboard")
		}
	}
	cfg.Root = filepath.Clean(cfg.Root)
	cfg.DataRoot = filepath.Clean(cfg.DataRoot)

	return cfg, nil
}

// Validate checks the port range and the served root.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port number must be between 1 and 65535, got %d", c.Port)
	}

	info, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("root directory does not exist: %s", c.Root)
	}
	if !info.IsDir() {
		return fmt.Errorf("root path is not a directory: %s", c.Root)
	}

	return nil
}

// EnsureLayout creates the logs, data and temp directories.
func (c Config) EnsureLayout() error {
	for _, dir := range []string{c.LogsDir(), c.DataDir(), c.TempDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) LogsDir() string {
	return filepath.Join(c.DataRoot, "logs")
}

// DataDir holds one subdirectory per submitted experiment.
func (c Config) DataDir() string {
	return filepath.Join(c.DataRoot, "data")
}

func (c Config) TempDir() string {
	return filepath.Join(c.DataRoot, "temp")
}

// PlatformsDir resolves the qibolab platforms checkout location.
func (c Config) PlatformsDir() string {
	if c.Platforms != "" {
		return c.Platforms
	}

	return filepath.Join(c.Root, DefaultPlatformsDirName)
}

// SlurmLogPath is the log file experiment jobs write their output to.
func (c Config) SlurmLogPath() string {
	return filepath.Join(c.LogsDir(), "slurm_output.log")
}

// LastReportFile stores the output directory of the newest submission.
func (c Config) LastReportFile() string {
	return filepath.Join(c.LogsDir(), "last_report_path")
}
