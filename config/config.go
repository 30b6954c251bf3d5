// Package config loads the typed configuration tree spec §6 enumerates —
// transport, variant, timing, safety, and security — from a TOML file,
// following the teacher's DefaultConfig()-then-override shape (tp.DefaultConfig)
// rather than relying on zero-value struct literals.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TransportConfig selects and parametrizes a canbus.Adapter implementation.
// Driver is "mock" or "serial" (cmd/flashctl refuses any other value);
// Channel/Bitrate are passed through to whichever constructor the driver
// names.
type TransportConfig struct {
	Driver  string `toml:"driver"`
	Channel string `toml:"channel"`
	Bitrate int    `toml:"bitrate"`
}

// VariantConfig names the controller family and the ISO-TP address pair to
// address it at. BaseAddr/Size are informational overrides; the registry
// entry named by ID remains authoritative for zone/forbidden-region layout.
type VariantConfig struct {
	ID         string `toml:"id"`
	BaseAddr   uint32 `toml:"base_addr"`
	Size       uint32 `toml:"size"`
	ZoneMapID  string `toml:"zone_map_id"`
	TxID       uint32 `toml:"tx_id"`
	RxID       uint32 `toml:"rx_id"`
}

// TimingConfig overrides the ISO-TP/UDS timing constants spec §4.2/§4.3
// fix as defaults. Zero values mean "use the package default."
type TimingConfig struct {
	P2               int  `toml:"p2"`
	P2Star           int  `toml:"p2_star"`
	STMinOverride    *int `toml:"st_min_override"`
	BlockSizeOverride *int `toml:"block_size_override"`
}

// SafetyConfig gates Phase A/B behavior per spec §6.
type SafetyConfig struct {
	RequireExplicitWarningAck bool   `toml:"require_explicit_warning_ack"`
	BackupStorePath           string `toml:"backup_store_path"`
	ForbidMissingBackup       bool   `toml:"forbid_missing_backup"`
}

// SecurityConfig carries the security section. LockoutBackoffMS reaches
// security.Manager; AlgorithmOrder only replaces the variant's
// SeedKeyAlgorithmOrder field, which security.Manager does not read.
type SecurityConfig struct {
	AlgorithmOrder    []string `toml:"algorithm_order"`
	LockoutBackoffMS  int      `toml:"lockout_backoff_ms"`
}

// Config is the complete on-disk configuration tree spec §6 names.
type Config struct {
	Transport TransportConfig `toml:"transport"`
	Variant   VariantConfig   `toml:"variant"`
	Timing    TimingConfig    `toml:"timing"`
	Safety    SafetyConfig    `toml:"safety"`
	Security  SecurityConfig  `toml:"security"`
}

// Default returns the configuration tree's default values, mirroring the
// same defaults flashcore.DefaultConfig and isotp.DefaultConfig carry, so a
// config file only needs to name what it overrides.
func Default() Config {
	return Config{
		Transport: TransportConfig{
			Driver:  "mock",
			Channel: "can0",
			Bitrate: 500000,
		},
		Variant: VariantConfig{
			ID:   "MSD80",
			TxID: 0x612,
			RxID: 0x613,
		},
		Safety: SafetyConfig{
			RequireExplicitWarningAck: true,
			BackupStorePath:           "backups",
			ForbidMissingBackup:       true,
		},
		Security: SecurityConfig{
			AlgorithmOrder:   []string{"A", "B", "C", "RFTX"},
			LockoutBackoffMS: 10000,
		},
	}
}

// Load reads and decodes a TOML file at path on top of Default(), so an
// on-disk config only needs to set the fields it wants to override.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
