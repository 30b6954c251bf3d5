package flashcore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/n54tools/flashcore/backup"
	"github.com/n54tools/flashcore/calib"
	"github.com/n54tools/flashcore/uds"
)

// Result is the terminal outcome of one Flash call, carrying everything
// spec §7's error-propagation policy requires alongside the error itself:
// the phase reached, bytes transferred, and whether the controller is
// known to be safe to power off.
type Result struct {
	SessionPhase     SessionPhase
	BytesTransferred int
	SafeToPowerOff   bool
	Warnings         []Warning
	Backup           *backup.Record
	RolledBack       bool
}

// WarningsNotAcknowledgedError is returned by Flash when layer 7's
// aggregated warnings require caller acknowledgement (spec §4.5 Phase A)
// and the caller did not pass warningsAcknowledged. No bus traffic has
// occurred; the caller re-invokes Flash with acknowledged=true to proceed.
type WarningsNotAcknowledgedError struct {
	Warnings []Warning
}

func (e *WarningsNotAcknowledgedError) Error() string {
	return fmt.Sprintf("flashcore: %d validator warning(s) require explicit acknowledgement before proceeding", len(e.Warnings))
}

// Flash drives a FlashSession through phases A-G of spec §4.5 against
// candidate, diffing against stockImage where available (nil is
// acceptable and falls back to spec's non-0xFF heuristic). acknowledged
// must be true on the call that proceeds past layer 7's warnings once
// cfg.RequireExplicitWarningAck is set.
func (s *FlashSession) Flash(ctx context.Context, candidate, stockImage []byte, acknowledged bool) (Result, error) {
	// Phase A: prepare & validate.
	result, err := s.phaseValidate(candidate, stockImage, acknowledged)
	if err != nil {
		s.setPhase(SessionAborted)
		s.logOp(PhasePrepare, "validation_refused", err.Error())
		return result, err
	}
	if result.Warnings != nil && !acknowledged && s.cfg.RequireExplicitWarningAck {
		return result, &WarningsNotAcknowledgedError{Warnings: result.Warnings}
	}
	s.logOp(PhasePrepare, "validated", fmt.Sprintf("warnings=%d", len(result.Warnings)))

	if err := ctx.Err(); err != nil {
		s.setPhase(SessionAborted)
		return result, err
	}

	// Phase B: connect & back up.
	rec, err := s.phaseConnectAndBackup(ctx)
	if err != nil {
		s.setPhase(SessionAborted)
		s.logOp(PhaseConnect, "connect_failed", err.Error())
		return result, err
	}
	result.Backup = &rec
	s.backupRef = &rec

	keepAliveStop := s.startKeepAlive(ctx)
	defer func() { _ = keepAliveStop() }()

	if err := s.checkCancel(ctx, &result); err != nil {
		return result, err
	}

	// Phase C: CRC refresh.
	if err := s.phaseRefreshCRCs(candidate); err != nil {
		s.setPhase(SessionAborted)
		s.logOp(PhaseRefresh, "crc_refresh_failed", err.Error())
		return result, err
	}
	s.logOp(PhaseRefresh, "crcs_refreshed", "")

	if err := s.checkCancel(ctx, &result); err != nil {
		return result, err
	}

	// Phase D: erase.
	if err := s.phaseErase(ctx); err != nil {
		s.setPhase(SessionAborted)
		s.logOp(PhaseErase, "erase_failed", err.Error())
		return result, err
	}
	s.logOp(PhaseErase, "erased", "")

	if err := s.checkCancel(ctx, &result); err != nil {
		return result, err
	}

	// Phase E: write.
	sent, err := s.phaseWrite(ctx, candidate)
	result.BytesTransferred = sent
	if err != nil {
		s.setPhase(SessionAborted)
		s.logOp(PhaseWrite, "transfer_failed", err.Error())
		return result, err
	}
	s.logOp(PhaseWrite, "transfer_complete", fmt.Sprintf("bytes=%d", sent))

	// Phase F: verify. A mismatch here attempts rollback regardless of
	// cancellation state, since bytes are already on the controller.
	if err := s.phaseVerify(ctx, candidate, rec); err != nil {
		var vm *VerifyMismatchError
		if e, ok := err.(*VerifyMismatchError); ok {
			vm = e
			result.RolledBack = vm.RolledBack
		}
		s.setPhase(SessionAborted)
		s.logOp(PhaseVerify, "verify_mismatch", err.Error())
		return result, err
	}
	s.logOp(PhaseVerify, "verified", "")

	// Stop the keep-alive before Phase G closes the session: phaseFinalize
	// calls EndFlash, and a ticker firing TesterPresent after that would hit
	// a closed ISO-TP session. The deferred stop above becomes a no-op.
	if err := keepAliveStop(); err != nil {
		s.log.Warn("flashcore: keep-alive stop returned error", "err", err)
	}

	// Phase G: finalize.
	if err := s.phaseFinalize(ctx); err != nil {
		s.setPhase(SessionAborted)
		s.logOp(PhaseFinalize, "finalize_failed", err.Error())
		return result, err
	}
	s.setPhase(SessionFinalized)
	s.logOp(PhaseFinalize, "finalized", "")
	result.SessionPhase = SessionFinalized
	result.SafeToPowerOff = true
	return result, nil
}

// checkCancel implements spec §5's "checked at phase boundaries" rule: if
// ctx is done between phases, the session transitions cleanly to aborted
// with no further events.
func (s *FlashSession) checkCancel(ctx context.Context, result *Result) error {
	if err := ctx.Err(); err != nil {
		// safeToPowerOff must read the phase the session was actually in
		// when cancellation was noticed, before setPhase(SessionAborted)
		// overwrites it — SessionAborted itself carries no information
		// about whether an erase/write was in flight when it happened.
		safe := s.safeToPowerOff()
		s.setPhase(SessionAborted)
		result.SessionPhase = SessionAborted
		result.SafeToPowerOff = safe
		s.logOp(PhaseAborted, "cancelled", err.Error())
		return err
	}
	return nil
}

func (s *FlashSession) phaseValidate(candidate, stockImage []byte, acknowledged bool) (Result, error) {
	warnings := sniffVariant(candidate, s.Variant)
	vr, err := Validate(candidate, stockImage, s.Variant)
	if err != nil {
		return Result{SessionPhase: SessionAborted, SafeToPowerOff: true}, err
	}
	warnings = append(warnings, vr.Warnings...)
	return Result{SessionPhase: SessionIdle, SafeToPowerOff: true, Warnings: warnings}, nil
}

func (s *FlashSession) phaseConnectAndBackup(ctx context.Context) (backup.Record, error) {
	if _, err := s.UDS.Request(ctx, uds.BuildDiagnosticSessionControl(uds.SessionProgramming), uds.DefaultRequestOptions()); err != nil {
		return backup.Record{}, fmt.Errorf("flashcore: enter programming session: %w", err)
	}
	s.setPhase(SessionConnected)

	if err := s.Security.Unlock(ctx, string(s.Variant.ID), uds.SecurityAccessRequestSeed); err != nil {
		return backup.Record{}, &SecurityDeniedError{Cause: err}
	}
	s.setPhase(SessionUnlocked)

	data, err := s.readMemory(ctx, s.Variant.CalibrationBase, s.Variant.CalibrationSize)
	if err != nil {
		return backup.Record{}, fmt.Errorf("flashcore: read calibration region for backup: %w", err)
	}

	rec, err := backup.Write(s.cfg.BackupStorePath, string(s.Variant.ID), s.cfg.SourceECUID, data, s.cfg.CMACKey, time.Now())
	if err != nil {
		return backup.Record{}, &BackupWriteFailedError{Cause: err}
	}
	if err := backup.Verify(rec); err != nil {
		return backup.Record{}, &BackupRequiredError{Variant: string(s.Variant.ID)}
	}
	return rec, nil
}

// readMemory issues as many ReadMemoryByAddress requests as needed to cover
// [addr, addr+length), each capped at cfg.ChunkSize, per spec §4.5 Phase B
// and Phase F's shared "512-byte windows" rule.
func (s *FlashSession) readMemory(ctx context.Context, addr, length uint32) ([]byte, error) {
	out := make([]byte, 0, length)
	chunk := uint32(s.cfg.ChunkSize)
	for offset := uint32(0); offset < length; offset += chunk {
		n := chunk
		if offset+n > length {
			n = length - offset
		}
		resp, err := s.UDS.Request(ctx, uds.BuildReadMemoryByAddress(addr+offset, n), uds.DefaultRequestOptions())
		if err != nil {
			return nil, err
		}
		out = append(out, resp...)
	}
	return out, nil
}

func (s *FlashSession) phaseRefreshCRCs(candidate []byte) error {
	if err := calib.RefreshAllCRCs(candidate, s.Variant); err != nil {
		return fmt.Errorf("flashcore: refresh CRCs: %w", err)
	}
	mismatches, err := calib.VerifyAllCRCs(candidate, s.Variant)
	if err != nil {
		return fmt.Errorf("flashcore: verify refreshed CRCs: %w", err)
	}
	if len(mismatches) > 0 {
		return &InternalInvariantError{Details: fmt.Sprintf("RefreshAllCRCs returned but VerifyAllCRCs found %d mismatch(es)", len(mismatches))}
	}
	return nil
}

func (s *FlashSession) phaseErase(ctx context.Context) error {
	s.setPhase(SessionProgramming)
	param := append(u32beLocal(s.Variant.CalibrationBase), u32beLocal(s.Variant.CalibrationSize)...)
	if _, err := s.UDS.Request(ctx, uds.BuildRoutineControl(uds.RoutineControlStart, uds.RoutineIDErase, param), longRunningOptions()); err != nil {
		return &EraseFailedError{Cause: err}
	}
	return nil
}

func u32beLocal(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func longRunningOptions() uds.RequestOptions {
	opts := uds.DefaultRequestOptions()
	opts.Timeout = 5 * time.Second
	return opts
}

func (s *FlashSession) phaseWrite(ctx context.Context, candidate []byte) (int, error) {
	downloadResp, err := s.UDS.Request(ctx, uds.BuildRequestDownload(s.Variant.CalibrationBase, uint32(len(candidate))), longRunningOptions())
	if err != nil {
		return 0, &DownloadRejectedError{Cause: err}
	}

	chunkSize := s.cfg.ChunkSize
	if maxLen := parseMaxBlockLength(downloadResp); maxLen > 0 && maxLen < chunkSize {
		chunkSize = maxLen
	}

	blockSeq := byte(1)
	sent := 0
	for sent < len(candidate) {
		if err := ctx.Err(); err != nil {
			// Cancellation is deferred until the current block completes
			// (spec §4.5); sent already reflects every completed block.
			break
		}

		end := sent + chunkSize
		if end > len(candidate) {
			end = len(candidate)
		}
		chunk := candidate[sent:end]

		if _, err := s.UDS.Request(ctx, uds.BuildTransferData(blockSeq, chunk), uds.DefaultRequestOptions()); err != nil {
			return sent, &TransferFailedError{BytesSent: sent, Cause: err}
		}
		sent = end
		s.setCursor(sent)
		blockSeq++ // byte overflow wraps 0xFF -> 0x00 -> 0x01, per UDS TransferData convention

		if s.cfg.ProgressCallback != nil {
			s.cfg.ProgressCallback(Progress{
				Phase:      PhaseWrite,
				BytesSent:  sent,
				BytesTotal: len(candidate),
				Percentage: 100 * float64(sent) / float64(len(candidate)),
			})
		}
	}

	if sent < len(candidate) {
		return sent, ctx.Err()
	}

	if _, err := s.UDS.Request(ctx, uds.BuildRequestTransferExit(), uds.DefaultRequestOptions()); err != nil {
		return sent, &ExitRejectedError{Cause: err}
	}
	return sent, nil
}

// parseMaxBlockLength extracts the maxNumberOfBlockLength field from a
// RequestDownload positive response: [lengthFormatID][maxBlockLength...],
// honoring whatever smaller block size the controller names per spec §4.5
// Phase E ("Honour the maxBlockLength the controller returns").
func parseMaxBlockLength(resp []byte) int {
	if len(resp) < 2 {
		return 0
	}
	lengthFormatID := resp[0]
	n := int(lengthFormatID >> 4)
	if n <= 0 || len(resp) < 1+n {
		return 0
	}
	var v int
	for _, b := range resp[1 : 1+n] {
		v = v<<8 | int(b)
	}
	return v
}

func (s *FlashSession) phaseVerify(ctx context.Context, candidate []byte, rec backup.Record) error {
	s.setPhase(SessionVerifying)
	readBack, err := s.readMemory(ctx, s.Variant.CalibrationBase, uint32(len(candidate)))
	if err != nil {
		return s.attemptRollback(ctx, rec, 0, err)
	}
	if bytes.Equal(readBack, candidate) {
		return nil
	}
	firstBad := firstMismatch(candidate, readBack)
	return s.attemptRollback(ctx, rec, s.Variant.CalibrationBase+firstBad, nil)
}

func firstMismatch(a, b []byte) uint32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return uint32(i)
		}
	}
	return uint32(n)
}

// attemptRollback issues a best-effort second RequestDownload/TransferData
// sequence of the backed-up image, per spec §4.5 Phase F.
func (s *FlashSession) attemptRollback(ctx context.Context, rec backup.Record, offset uint32, readErr error) error {
	original, loadErr := backup.Load(rec)
	if loadErr != nil {
		return &VerifyMismatchError{FirstBadOffset: offset, RolledBack: false, RollbackErr: loadErr}
	}

	if _, err := s.UDS.Request(ctx, uds.BuildRequestDownload(s.Variant.CalibrationBase, uint32(len(original))), longRunningOptions()); err != nil {
		return &VerifyMismatchError{FirstBadOffset: offset, RolledBack: false, RollbackErr: err}
	}

	blockSeq := byte(1)
	for sent := 0; sent < len(original); {
		end := sent + s.cfg.ChunkSize
		if end > len(original) {
			end = len(original)
		}
		if _, err := s.UDS.Request(ctx, uds.BuildTransferData(blockSeq, original[sent:end]), uds.DefaultRequestOptions()); err != nil {
			return &VerifyMismatchError{FirstBadOffset: offset, RolledBack: false, RollbackErr: err}
		}
		sent = end
		blockSeq++
	}

	if _, err := s.UDS.Request(ctx, uds.BuildRequestTransferExit(), uds.DefaultRequestOptions()); err != nil {
		return &VerifyMismatchError{FirstBadOffset: offset, RolledBack: false, RollbackErr: err}
	}
	if readErr != nil {
		return &VerifyMismatchError{FirstBadOffset: offset, RolledBack: true}
	}
	return &VerifyMismatchError{FirstBadOffset: offset, RolledBack: true}
}

func (s *FlashSession) phaseFinalize(ctx context.Context) error {
	if s.Variant.ChecksumRoutineDefined() {
		if _, err := s.UDS.Request(ctx, uds.BuildRoutineControl(uds.RoutineControlStart, uds.RoutineIDChecksum, nil), longRunningOptions()); err != nil {
			return fmt.Errorf("flashcore: checksum recalculation routine: %w", err)
		}
	}
	if _, err := s.UDS.Request(ctx, uds.BuildECUReset(uds.ResetHard), uds.DefaultRequestOptions()); err != nil {
		return fmt.Errorf("flashcore: ECUReset: %w", err)
	}
	return s.EndFlash()
}
