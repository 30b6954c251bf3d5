package flashcore

import (
	"fmt"
	"sync"
	"time"

	"github.com/n54tools/flashcore/backup"
	"github.com/n54tools/flashcore/canbus"
	"github.com/n54tools/flashcore/isotp"
	"github.com/n54tools/flashcore/security"
	"github.com/n54tools/flashcore/uds"
	"github.com/n54tools/flashcore/variant"
)

// SessionPhase is the FlashSession lifecycle state from spec §3: idle,
// connected, unlocked, programming, verifying, finalized, aborted. This is
// distinct from the finer-grained Progress.Phase reported to callers —
// SessionPhase gates what operations are legal, Progress.Phase is purely
// informational.
type SessionPhase string

const (
	SessionIdle        SessionPhase = "idle"
	SessionConnected   SessionPhase = "connected"
	SessionUnlocked    SessionPhase = "unlocked"
	SessionProgramming SessionPhase = "programming"
	SessionVerifying   SessionPhase = "verifying"
	SessionFinalized   SessionPhase = "finalized"
	SessionAborted     SessionPhase = "aborted"
)

// FlashSession is per-attempt state for exactly one flash run, per spec
// §3: single-writer, bound to one transport for its lifetime. A cancelled
// or finalized session is unusable; BeginFlash constructs a fresh one.
type FlashSession struct {
	mu sync.Mutex

	Variant   variant.Variant
	Transport canbus.Adapter
	ISOTP     *isotp.Session
	UDS       *uds.Client
	Security  *security.Manager

	cfg       Config
	log       Logger
	sessionID string

	phase     SessionPhase
	cursor    int
	backupRef *backup.Record
}

// BeginFlash opens the transport-bound stack and returns a fresh,
// idle FlashSession. addr/isoCfg configure the ISO-TP pair; cfg/opts
// configure the orchestrator behavior applied by Flash.
func BeginFlash(transport canbus.Adapter, v variant.Variant, addr isotp.Address, isoCfg isotp.Config, opts ...Option) (*FlashSession, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = NewLogrusLogger(nil)
	}
	if len(cfg.SecurityAlgorithmOrder) > 0 {
		v.SeedKeyAlgorithmOrder = cfg.SecurityAlgorithmOrder
	}

	isoSession, err := isotp.NewSession(transport, addr, isoCfg)
	if err != nil {
		return nil, fmt.Errorf("flashcore: open isotp session: %w", err)
	}
	udsClient := uds.New(isoSession, nil)
	var secOpts []security.Option
	if cfg.LockoutBackoff > 0 {
		secOpts = append(secOpts, security.WithLockoutBackoff(cfg.LockoutBackoff))
	}
	secMgr := security.NewManager(udsClient, nil, secOpts...)

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("flash-%d", time.Now().UnixNano())
	}

	return &FlashSession{
		Variant:   v,
		Transport: transport,
		ISOTP:     isoSession,
		UDS:       udsClient,
		Security:  secMgr,
		cfg:       cfg,
		log:       cfg.Logger,
		sessionID: sessionID,
		phase:     SessionIdle,
	}, nil
}

// logOp appends one opslog entry tagged with this session's ID, if an
// opslog.Writer was configured. Errors writing the operation log are
// logged but never fail the flash itself.
func (s *FlashSession) logOp(phase Phase, event, detail string) {
	if s.cfg.OpsLog == nil {
		return
	}
	if err := s.cfg.OpsLog.Log(s.sessionID, string(phase), event, detail, time.Now()); err != nil {
		s.log.Warn("flashcore: opslog write failed", "err", err)
	}
}

// Phase returns the session's current SessionPhase, safe for concurrent
// reads from a caller watching progress from another goroutine.
func (s *FlashSession) Phase() SessionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *FlashSession) setPhase(p SessionPhase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Cursor returns the number of calibration bytes transmitted so far in the
// current/last write phase.
func (s *FlashSession) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *FlashSession) setCursor(n int) {
	s.mu.Lock()
	s.cursor = n
	s.mu.Unlock()
}

// BackupRef returns the backup record this session wrote in Phase B, or
// nil if the session never reached Phase B.
func (s *FlashSession) BackupRef() *backup.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupRef
}

// EndFlash releases the session's transport. Per spec §3 a session may not
// be reused after this. Flash calls it only at the end of Phase G; a run
// that aborts returns without calling it, leaving the transport open.
func (s *FlashSession) EndFlash() error {
	s.Security.Close()
	return s.ISOTP.Close()
}

// safeToPowerOff reports whether the controller is known to be in a state
// where removing power would not brick it: true before any erase/write
// traffic, and true again once Phase G's ECUReset has been issued.
// SessionAborted is deliberately excluded: callers must read this before
// transitioning to SessionAborted, since that phase alone says nothing
// about what was in flight when the abort happened (see checkCancel).
func (s *FlashSession) safeToPowerOff() bool {
	switch s.Phase() {
	case SessionIdle, SessionConnected, SessionUnlocked, SessionFinalized:
		return true
	default:
		return false
	}
}
