package flashcore

import (
	"time"

	"github.com/n54tools/flashcore/opslog"
)

// transferChunkSize is the 512-byte TransferData cap spec §4.2/§4.5 impose
// on top of ISO-TP's own 4095-byte multi-frame ceiling, reflecting the
// controller-side buffer limit.
const transferChunkSize = 512

// Config holds every tunable the orchestrator needs beyond the variant and
// transport, following moffa90-go-cyacd's bootloader.Config shape: a plain
// struct built through functional Options rather than a constructor with a
// long positional argument list.
type Config struct {
	ProgressCallback ProgressCallback
	Logger           Logger

	// ChunkSize caps TransferData payload bytes; spec §4.5 fixes this at
	// 512 but honors whatever smaller maxBlockLength the controller grants.
	ChunkSize int

	// BackupStorePath is the directory backup.Write saves snapshots under.
	BackupStorePath string

	// RequireExplicitWarningAck gates Phase A's layer-7 warning
	// aggregation: if true, Flash returns the warning list without
	// proceeding unless WarningsAcknowledged is also true for this call.
	RequireExplicitWarningAck bool

	// ForbidMissingBackup is carried from the safety.forbid_missing_backup
	// configuration key but Flash does not read it: Phase B always takes a
	// fresh backup, and a failed backup write or verification is always
	// fatal, whatever this flag says.
	ForbidMissingBackup bool

	// SecurityAlgorithmOrder overrides variant.Variant.SeedKeyAlgorithmOrder
	// when set, per spec §6's security.algorithm_order configuration key.
	// security.Manager does not read that field, so the unlock still tries
	// algorithms in security.Names() order.
	SecurityAlgorithmOrder []string

	// TesterPresentInterval is the keep-alive cadence spec §4.3 fixes at 2s.
	TesterPresentInterval time.Duration

	// LockoutBackoff overrides security.Manager's default 10s lockout
	// backoff, per spec §6's security.lockout_backoff_ms.
	LockoutBackoff time.Duration

	// CMACKey, if set, makes backup.Write compute a belt-and-suspenders
	// CMAC-AES128 tag alongside the authoritative SHA-256.
	CMACKey []byte

	// SourceECUID is recorded in the backup sidecar's source_ecu_id field.
	SourceECUID string

	// SessionID tags every opslog entry and log line for this run. If
	// empty, BeginFlash derives one from the current time.
	SessionID string

	// OpsLog, if set, receives one append-only JSON-lines entry per phase
	// transition and terminal event, per spec §6.
	OpsLog *opslog.Writer
}

// DefaultConfig returns the timing and chunking spec §4.5/§4.3 specify.
func DefaultConfig() Config {
	return Config{
		ChunkSize:                 transferChunkSize,
		BackupStorePath:           "backups",
		RequireExplicitWarningAck: true,
		ForbidMissingBackup:       true,
		TesterPresentInterval:     2 * time.Second,
	}
}

// Option is a functional option for Config, matching the teacher-adjacent
// moffa90-go-cyacd bootloader.Option pattern used throughout this repo.
type Option func(*Config)

func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *Config) { c.ProgressCallback = cb }
}

func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithChunkSize(n int) Option {
	return func(c *Config) {
		if n > 0 && n <= transferChunkSize {
			c.ChunkSize = n
		}
	}
}

func WithBackupStorePath(path string) Option {
	return func(c *Config) { c.BackupStorePath = path }
}

func WithRequireExplicitWarningAck(require bool) Option {
	return func(c *Config) { c.RequireExplicitWarningAck = require }
}

func WithForbidMissingBackup(forbid bool) Option {
	return func(c *Config) { c.ForbidMissingBackup = forbid }
}

func WithSecurityAlgorithmOrder(order []string) Option {
	return func(c *Config) { c.SecurityAlgorithmOrder = order }
}

func WithTesterPresentInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.TesterPresentInterval = d
		}
	}
}

func WithLockoutBackoff(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.LockoutBackoff = d
		}
	}
}

func WithCMACKey(key []byte) Option {
	return func(c *Config) { c.CMACKey = key }
}

func WithSourceECUID(id string) Option {
	return func(c *Config) { c.SourceECUID = id }
}

func WithOpsLog(w *opslog.Writer) Option {
	return func(c *Config) { c.OpsLog = w }
}

func WithSessionID(id string) Option {
	return func(c *Config) { c.SessionID = id }
}
