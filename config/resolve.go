package config

import (
	"fmt"
	"time"

	"github.com/n54tools/flashcore/flashcore"
	"github.com/n54tools/flashcore/isotp"
	"github.com/n54tools/flashcore/variant"
)

// ISOTPAddress returns the tx/rx ID pair this config names, falling back to
// isotp.DefaultAddress when unset.
func (c Config) ISOTPAddress() isotp.Address {
	addr := isotp.DefaultAddress
	if c.Variant.TxID != 0 {
		addr.TxID = c.Variant.TxID
	}
	if c.Variant.RxID != 0 {
		addr.RxID = c.Variant.RxID
	}
	return addr
}

// ISOTPConfig builds an isotp.Config from the timing section, applying only
// the overrides that are set.
func (c Config) ISOTPConfig() isotp.Config {
	cfg := isotp.DefaultConfig()
	if c.Timing.P2 > 0 {
		cfg.TimeoutN_Bs = time.Duration(c.Timing.P2) * time.Millisecond
	}
	if c.Timing.P2Star > 0 {
		cfg.TimeoutN_Cr = time.Duration(c.Timing.P2Star) * time.Millisecond
	}
	if c.Timing.BlockSizeOverride != nil {
		cfg.BlockSize = byte(*c.Timing.BlockSizeOverride)
	}
	if c.Timing.STMinOverride != nil {
		cfg.STmin = byte(*c.Timing.STMinOverride)
	}
	return cfg
}

// ResolveVariant looks up the registered variant.Variant named by
// Variant.ID, erroring if it is not one of the two supported families.
func (c Config) ResolveVariant() (variant.Variant, error) {
	v, ok := variant.Lookup(variant.ID(c.Variant.ID))
	if !ok {
		return variant.Variant{}, fmt.Errorf("config: unknown variant id %q", c.Variant.ID)
	}
	return v, nil
}

// FlashOptions translates the safety/security sections into flashcore.Option
// values, so cmd/flashctl never constructs a flashcore.Config by hand.
func (c Config) FlashOptions() []flashcore.Option {
	opts := []flashcore.Option{
		flashcore.WithBackupStorePath(c.Safety.BackupStorePath),
		flashcore.WithRequireExplicitWarningAck(c.Safety.RequireExplicitWarningAck),
		flashcore.WithForbidMissingBackup(c.Safety.ForbidMissingBackup),
	}
	if len(c.Security.AlgorithmOrder) > 0 {
		opts = append(opts, flashcore.WithSecurityAlgorithmOrder(c.Security.AlgorithmOrder))
	}
	if c.Security.LockoutBackoffMS > 0 {
		opts = append(opts, flashcore.WithLockoutBackoff(time.Duration(c.Security.LockoutBackoffMS)*time.Millisecond))
	}
	return opts
}
