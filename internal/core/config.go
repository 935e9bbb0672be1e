package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the option struct consumed by every component. It is populated
// by the external CLI boundary (out of scope for this module — see spec
// §6) and passed down by value/pointer to the components that need it.
// An optional on-disk defaults file (yaml) may seed it before flags are
// applied, for operators who want to pin options without a wrapper script.
type Config struct {
	// Fragment is always on per spec; kept as a field so tests can disable
	// it without special-casing the verdict function.
	Fragment bool `yaml:"fragment"`

	DelayMS uint64 `yaml:"delay_ms"`

	Fake        bool `yaml:"fake"`
	FakeTTL     uint8 `yaml:"fake_ttl"`
	FakeAutoTTL bool  `yaml:"fake_autottl"`
	FakeBadSum  bool  `yaml:"fake_badsum"`

	QueueNum   uint16 `yaml:"queue_num"`
	NFTCommand string `yaml:"nft_command"`

	Daemon   bool   `yaml:"daemon"`
	LogLevel string `yaml:"log_level"`
	NoSplash bool   `yaml:"no_splash"`

	// Ambient fields not named in the CLI surface table but consumed by the
	// Supervisor/Logger/Metrics components; defaulted when absent.
	PIDFilePath string `yaml:"pid_file,omitempty"`
	LogFilePath string `yaml:"log_file,omitempty"`

	LogMaxSizeMB  int `yaml:"log_max_size_mb,omitempty"`
	LogMaxAgeDays int `yaml:"log_max_age_days,omitempty"`
	LogMaxBackups int `yaml:"log_max_backups,omitempty"`

	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// DefaultConfig returns the option set the spec names as defaults:
// fragmentation always on, no delay, fake injection off, fake_ttl=8.
func DefaultConfig() Config {
	return Config{
		Fragment:      true,
		FakeTTL:       8,
		QueueNum:      0,
		NFTCommand:    "nft",
		PIDFilePath:   "/run/dpibreak.pid",
		LogFilePath:   "/var/log/dpibreak.log",
		LogMaxSizeMB:  10,
		LogMaxAgeDays: 28,
		LogMaxBackups: 5,
	}
}

// LoadDefaultsFile overlays a yaml defaults file onto cfg. Missing file is
// not an error — the CLI boundary is the source of truth; this is purely a
// convenience for operators who want to avoid a long flag line.
func LoadDefaultsFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read defaults file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse defaults file %s: %w", path, err)
	}
	return nil
}

// Validate checks option combinations before the diverter starts:
// fake_autottl requires fake, and queue_num must fit its range. It does not
// check the value of fake_ttl; a HopTab-inferred TTL of 0/1 falls back to
// fake_ttl at decoy-build time (§4.5) rather than failing here.
func (c Config) Validate() error {
	if c.FakeAutoTTL && !c.Fake {
		return fmt.Errorf("fake_autottl requires fake to be enabled")
	}
	if c.QueueNum > 65535 {
		return fmt.Errorf("queue_num out of range: %d", c.QueueNum)
	}
	return nil
}
