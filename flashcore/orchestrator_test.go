package flashcore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/n54tools/flashcore/canbus"
	"github.com/n54tools/flashcore/isotp"
	"github.com/n54tools/flashcore/variant"
	"github.com/stretchr/testify/require"
)

// flashTestVariant is deliberately tiny (4 bytes) so every multi-frame
// ISO-TP request this orchestrator issues (ReadMemoryByAddress,
// RequestDownload, RoutineControl erase) needs exactly one First Frame plus
// one Consecutive Frame, keeping the canned mock fixtures below hand-checkable
// against isotp/frame.go's encoding.
func flashTestVariant() variant.Variant {
	return variant.Variant{
		ID:                 "TESTECU",
		CalibrationBase:    0x000000,
		CalibrationSize:    4,
		SeedKeyAlgorithmOrder: []string{"A"},
		HasChecksumRoutine: false,
	}
}

// flashTestResponses wires the canned ECU replies for one complete
// Phase A-G run against candidate, reusing the same ReadMemoryByAddress
// fixture for both the Phase B backup read and the Phase F verify read (the
// mock has no notion of ECU memory state, so both reads return candidate).
//
// Every multi-frame request below gets two canbus.Response entries sharing
// the same TriggerID/TriggerData: a zero-delay Flow Control so Session.Send
// unblocks immediately, and a delayed positive reply so it cannot be
// consumed by awaitFlowControl's frame-discarding loop before Send returns.
func flashTestResponses(addr isotp.Address, candidate []byte) []canbus.Response {
	const realDelay = 20 * time.Millisecond
	fc := func(triggerData []byte) canbus.Response {
		return canbus.Response{
			TriggerID:   addr.TxID,
			TriggerData: triggerData,
			ResponseID:  addr.RxID,
			Response:    []byte{0x30, 0x00, 0x00, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA},
		}
	}
	reply := func(triggerData, response []byte) canbus.Response {
		return canbus.Response{
			TriggerID:   addr.TxID,
			TriggerData: triggerData,
			ResponseID:  addr.RxID,
			Response:    response,
			Delay:       realDelay,
		}
	}

	// ReadMemoryByAddress(addr=0, len=4): FF = [0x10,0x0A,0x23,0x44,0,0,0,0].
	readFF := []byte{0x10, 0x0A, 0x23, 0x44, 0x00, 0x00, 0x00, 0x00}
	readReply := append([]byte{0x05, 0x63}, candidate...) // SF, SID 0x63 + 4 data bytes

	// RequestDownload(addr=0, size=4): FF = [0x10,0x0B,0x34,0x00,0x44,0,0,0].
	downloadFF := []byte{0x10, 0x0B, 0x34, 0x00, 0x44, 0x00, 0x00, 0x00}
	downloadReply := []byte{0x02, 0x74, 0x00} // SF, lengthFormatID=0 (no maxBlockLength field)

	// RoutineControl(start, erase, param=[base(4)=0, size(4)=4]):
	// FF = [0x10,0x0C,0x31,0x01,0xFF,0x02,0,0].
	eraseFF := []byte{0x10, 0x0C, 0x31, 0x01, 0xFF, 0x02, 0x00, 0x00}
	eraseReply := []byte{0x04, 0x71, 0x01, 0xFF, 0x02}

	return []canbus.Response{
		fc(readFF), reply(readFF, readReply),
		fc(downloadFF), reply(downloadFF, downloadReply),
		fc(eraseFF), reply(eraseFF, eraseReply),

		// Single-frame exchanges: no Flow Control stage, one reply each. The
		// trigger bytes here are the raw ISO-TP Single Frame the client puts
		// on the bus, so they lead with the PCI length nibble (e.g. 0x02 for
		// a 2-byte UDS payload), not the bare UDS service bytes.
		{TriggerID: addr.TxID, TriggerData: []byte{0x02, 0x10, 0x02}, ResponseID: addr.RxID, Response: []byte{0x02, 0x50, 0x02}},                         // DiagnosticSessionControl(programming)
		{TriggerID: addr.TxID, TriggerData: []byte{0x02, 0x27, 0x01}, ResponseID: addr.RxID, Response: []byte{0x06, 0x67, 0x01, 0x00, 0x00, 0x00, 0x00, 0xAA}}, // SecurityAccess seed request -> all-zero seed, already unlocked
		{TriggerID: addr.TxID, TriggerData: []byte{0x06, 0x36, 0x01}, ResponseID: addr.RxID, Response: []byte{0x02, 0x76, 0x01}},                         // TransferData block 1
		{TriggerID: addr.TxID, TriggerData: []byte{0x01, 0x37}, ResponseID: addr.RxID, Response: []byte{0x01, 0x77}},                                     // RequestTransferExit
		{TriggerID: addr.TxID, TriggerData: []byte{0x02, 0x11, 0x01}, ResponseID: addr.RxID, Response: []byte{0x02, 0x51, 0x01}},                         // ECUReset(hard)
		{TriggerID: addr.TxID, TriggerData: []byte{0x02, 0x3E, 0x00}, ResponseID: addr.RxID, Response: []byte{0x02, 0x7E, 0x00}},                         // TesterPresent keep-alive
	}
}

func newFlashTestSession(t *testing.T, mock *canbus.Mock, backupDir string) *FlashSession {
	t.Helper()
	v := flashTestVariant()
	session, err := BeginFlash(mock, v, isotp.DefaultAddress, isotp.DefaultConfig(),
		WithChunkSize(4),
		WithBackupStorePath(backupDir),
		WithTesterPresentInterval(time.Hour), // long enough that no keep-alive tick lands mid-test
		WithRequireExplicitWarningAck(false),
	)
	require.NoError(t, err)
	return session
}

func TestFlash_HappyPath_WritesVerifiesAndFinalizes(t *testing.T) {
	mock := canbus.NewMock()
	candidate := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	mock.SetResponses(flashTestResponses(isotp.DefaultAddress, candidate)...)

	backupDir := t.TempDir()
	session := newFlashTestSession(t, mock, backupDir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := session.Flash(ctx, candidate, nil, false)
	require.NoError(t, err)
	require.Equal(t, SessionFinalized, result.SessionPhase)
	require.True(t, result.SafeToPowerOff)
	require.Equal(t, len(candidate), result.BytesTransferred)
	require.NotNil(t, result.Backup)
	require.False(t, result.RolledBack)

	data, err := os.ReadFile(result.Backup.BinaryPath)
	require.NoError(t, err)
	require.Equal(t, candidate, data)
}

func TestFlash_AllFFCandidate_RefusedBeforeAnyBusTraffic(t *testing.T) {
	mock := canbus.NewMock() // no responses registered: any bus traffic would hang the test
	session := newFlashTestSession(t, mock, t.TempDir())

	candidate := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := session.Flash(ctx, candidate, nil, false)
	var refused *ValidationRefusedError
	require.ErrorAs(t, err, &refused)
	require.Equal(t, 6, refused.Layer)
	require.Empty(t, mock.WriteLog())
	require.Equal(t, SessionAborted, result.SessionPhase)
}

func TestFlash_ForbiddenRegionDiff_RefusedBeforeAnyBusTraffic(t *testing.T) {
	mock := canbus.NewMock()
	v := flashTestVariant()
	v.ForbiddenRegions = []variant.ForbiddenRegion{{Name: "BOOT_CODE", Start: 0x000000, End: 0x000002}}
	session, err := BeginFlash(mock, v, isotp.DefaultAddress, isotp.DefaultConfig(), WithChunkSize(4), WithBackupStorePath(t.TempDir()))
	require.NoError(t, err)

	candidate := []byte{0x01, 0x00, 0x00, 0x00}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = session.Flash(ctx, candidate, make([]byte, 4), false)
	var refused *ValidationRefusedError
	require.ErrorAs(t, err, &refused)
	require.Equal(t, 1, refused.Layer)
	require.Empty(t, mock.WriteLog())
}

func TestFlash_WarningsRequireAcknowledgement(t *testing.T) {
	mock := canbus.NewMock()
	v := flashTestVariant()
	v.Zones = []variant.Zone{{Name: "Z0", Start: 0x000000, End: 0x000002, CRCSlot: 0x000002}}
	session, err := BeginFlash(mock, v, isotp.DefaultAddress, isotp.DefaultConfig(),
		WithChunkSize(4), WithBackupStorePath(t.TempDir()), WithRequireExplicitWarningAck(true))
	require.NoError(t, err)

	stock := make([]byte, 4)
	candidate := []byte{0x01, 0x00, 0x00, 0x00} // diffs inside Z0, not covered by any ValidatedMap
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = session.Flash(ctx, candidate, stock, false)
	var notAck *WarningsNotAcknowledgedError
	require.ErrorAs(t, err, &notAck)
	require.Len(t, notAck.Warnings, 1)
	require.Empty(t, mock.WriteLog())
}
