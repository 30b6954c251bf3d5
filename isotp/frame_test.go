package isotp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_SingleFrame(t *testing.T) {
	pdu := encodeSingleFrame([]byte{0x10, 0x03})
	d, err := decodeFrame(pdu)
	require.NoError(t, err)
	assert.Equal(t, pciSingleFrame, d.kind)
	assert.Equal(t, []byte{0x10, 0x03}, d.payload)
}

func TestDecodeFrame_FirstFrame(t *testing.T) {
	pdu := encodeFirstFrame(12, []byte{1, 2, 3, 4, 5, 6})
	d, err := decodeFrame(pdu)
	require.NoError(t, err)
	assert.Equal(t, pciFirstFrame, d.kind)
	assert.Equal(t, 12, d.ffLen)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, d.payload)
}

func TestDecodeFrame_ConsecutiveFrame(t *testing.T) {
	pdu := encodeConsecutiveFrame(3, []byte{9, 8, 7})
	d, err := decodeFrame(pdu)
	require.NoError(t, err)
	assert.Equal(t, pciConsecutiveFrame, d.kind)
	assert.Equal(t, byte(3), d.cfIndex)
}

func TestDecodeFrame_ConsecutiveFrameWrapsAt16(t *testing.T) {
	pdu := encodeConsecutiveFrame(17, []byte{0})
	d, err := decodeFrame(pdu)
	require.NoError(t, err)
	assert.Equal(t, byte(1), d.cfIndex)
}

func TestDecodeFrame_FlowControl(t *testing.T) {
	pdu := encodeFlowControl(FlowStatusContinue, 8, 20)
	d, err := decodeFrame(pdu)
	require.NoError(t, err)
	assert.Equal(t, FlowStatusContinue, d.fc.Status)
	assert.Equal(t, byte(8), d.fc.BlockSize)
	assert.Equal(t, byte(20), d.fc.STmin)
}

func TestDecodeFrame_EmptyFrameIsMalformed(t *testing.T) {
	_, err := decodeFrame(nil)
	assert.ErrorAs(t, err, &MalformedFrameError{})
}

func TestDecodeFrame_SingleFrameDeclaringTooMuchIsMalformed(t *testing.T) {
	_, err := decodeFrame([]byte{0x07, 0x01})
	assert.ErrorAs(t, err, &MalformedFrameError{})
}

func TestPadFrame_PadsShortFramesTo8(t *testing.T) {
	pad := byte(0xAA)
	out := padFrame([]byte{0x02, 0x10}, &pad)
	assert.Len(t, out, 8)
	assert.Equal(t, []byte{0x02, 0x10, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}, out)
}

func TestPadFrame_LeavesLongFramesAlone(t *testing.T) {
	pad := byte(0xAA)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	out := padFrame(data, &pad)
	assert.Equal(t, data, out)
}

func TestSeparationTime_MillisecondRange(t *testing.T) {
	assert.Equal(t, 0, int(separationTime(0x00)))
	assert.Equal(t, 20, int(separationTime(0x14).Milliseconds()))
}

func TestSeparationTime_MicrosecondRange(t *testing.T) {
	assert.Equal(t, 100, int(separationTime(0xF1).Microseconds()))
	assert.Equal(t, 900, int(separationTime(0xF9).Microseconds()))
}
