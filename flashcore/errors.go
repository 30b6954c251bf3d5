package flashcore

import "fmt"

// Phase names a stage of a FlashSession, used for progress reporting and
// for tagging every error surfaced to the caller per spec §7.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePrepare    Phase = "prepare"
	PhaseConnect    Phase = "connect"
	PhaseBackup     Phase = "backup"
	PhaseRefresh    Phase = "refresh"
	PhaseErase      Phase = "erase"
	PhaseWrite      Phase = "write"
	PhaseVerify     Phase = "verify"
	PhaseFinalize   Phase = "finalize"
	PhaseAborted    Phase = "aborted"
	PhaseFinalized  Phase = "finalized"
)

// ValidationRefusedError is fatal pre-bus: the seven-layer validator denied
// the candidate image before any frame was transmitted.
type ValidationRefusedError struct {
	Layer   int
	Details string
}

func (e *ValidationRefusedError) Error() string {
	return fmt.Sprintf("flashcore: validation refused at layer %d: %s", e.Layer, e.Details)
}

// BackupRequiredError is fatal pre-erase: the backup just written in Phase
// B failed its second hash verification, so no verified Backup exists.
type BackupRequiredError struct {
	Variant string
}

func (e *BackupRequiredError) Error() string {
	return fmt.Sprintf("flashcore: no verified backup on file for variant %s", e.Variant)
}

// BackupWriteFailedError is fatal pre-erase: the backup write or its
// post-write hash verification failed.
type BackupWriteFailedError struct {
	Cause error
}

func (e *BackupWriteFailedError) Error() string {
	return fmt.Sprintf("flashcore: backup write failed: %v", e.Cause)
}

func (e *BackupWriteFailedError) Unwrap() error { return e.Cause }

// SecurityDeniedError wraps the security package's lockout into a
// session-fatal error carrying the phase it happened in.
type SecurityDeniedError struct {
	Cause error
}

func (e *SecurityDeniedError) Error() string {
	return fmt.Sprintf("flashcore: security access denied: %v", e.Cause)
}

func (e *SecurityDeniedError) Unwrap() error { return e.Cause }

// EraseFailedError is fatal; no bytes have been transmitted when it occurs.
type EraseFailedError struct {
	Cause error
}

func (e *EraseFailedError) Error() string { return fmt.Sprintf("flashcore: erase failed: %v", e.Cause) }
func (e *EraseFailedError) Unwrap() error  { return e.Cause }

// DownloadRejectedError is fatal; RequestDownload was negatively answered
// before any TransferData block was sent.
type DownloadRejectedError struct {
	Cause error
}

func (e *DownloadRejectedError) Error() string {
	return fmt.Sprintf("flashcore: RequestDownload rejected: %v", e.Cause)
}
func (e *DownloadRejectedError) Unwrap() error { return e.Cause }

// TransferFailedError is fatal mid-stream; BytesSent tells the caller how
// much of the image had already gone out when the failure happened.
type TransferFailedError struct {
	BytesSent int
	Cause     error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("flashcore: transfer failed after %d bytes: %v", e.BytesSent, e.Cause)
}
func (e *TransferFailedError) Unwrap() error { return e.Cause }

// ExitRejectedError is fatal: RequestTransferExit was negatively answered.
type ExitRejectedError struct {
	Cause error
}

func (e *ExitRejectedError) Error() string {
	return fmt.Sprintf("flashcore: RequestTransferExit rejected: %v", e.Cause)
}
func (e *ExitRejectedError) Unwrap() error { return e.Cause }

// VerifyMismatchError triggers a rollback attempt; RolledBack/RollbackErr
// report whether the best-effort restore succeeded.
type VerifyMismatchError struct {
	FirstBadOffset uint32
	RolledBack     bool
	RollbackErr    error
}

func (e *VerifyMismatchError) Error() string {
	if e.RolledBack {
		return fmt.Sprintf("flashcore: verify mismatch at offset 0x%06X (rollback ok)", e.FirstBadOffset)
	}
	return fmt.Sprintf("flashcore: verify mismatch at offset 0x%06X (rollback failed: %v)", e.FirstBadOffset, e.RollbackErr)
}

// InternalInvariantError is always fatal and indicates a bug: RefreshAllCRCs
// returned but VerifyAllCRCs immediately found a mismatch.
type InternalInvariantError struct {
	Details string
}

func (e *InternalInvariantError) Error() string {
	return fmt.Sprintf("flashcore: internal invariant violated: %s", e.Details)
}

// ExitCode classifies a terminal Result per spec §6.
type ExitCode int

const (
	ExitSuccess               ExitCode = 0
	ExitValidationRefused     ExitCode = 2
	ExitConnectUnlockFailed   ExitCode = 3
	ExitTransferRolledBack    ExitCode = 4
	ExitTransferNoRollback    ExitCode = 5
	ExitInternalInvariant     ExitCode = 6
)

// ExitCodeFor classifies err into spec §6's exit taxonomy.
func ExitCodeFor(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	switch e := err.(type) {
	case *ValidationRefusedError:
		return ExitValidationRefused
	case *BackupRequiredError, *BackupWriteFailedError, *SecurityDeniedError:
		return ExitConnectUnlockFailed
	case *InternalInvariantError:
		return ExitInternalInvariant
	case *VerifyMismatchError:
		if e.RolledBack {
			return ExitTransferRolledBack
		}
		return ExitTransferNoRollback
	case *EraseFailedError, *DownloadRejectedError, *ExitRejectedError:
		return ExitTransferNoRollback
	case *TransferFailedError:
		return ExitTransferNoRollback
	default:
		return ExitTransferNoRollback
	}
}
