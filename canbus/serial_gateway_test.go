package canbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSlcanLine_Standard(t *testing.T) {
	f, ok := parseSlcanLine("t61221003")
	require.True(t, ok)
	assert.Equal(t, uint32(0x612), f.ID)
	assert.Equal(t, []byte{0x10, 0x03}, f.Data)
	assert.False(t, f.ExtendedID)
}

func TestParseSlcanLine_Extended(t *testing.T) {
	f, ok := parseSlcanLine("T000007DF2FF00")
	require.True(t, ok)
	assert.Equal(t, uint32(0x7DF), f.ID)
	assert.True(t, f.ExtendedID)
}

func TestParseSlcanLine_RejectsUnknownPrefix(t *testing.T) {
	_, ok := parseSlcanLine("z6120")
	assert.False(t, ok)
}

func TestParseSlcanLine_RejectsTruncatedData(t *testing.T) {
	_, ok := parseSlcanLine("t612303")
	assert.False(t, ok)
}

func TestParseSlcanLine_RejectsEmpty(t *testing.T) {
	_, ok := parseSlcanLine("")
	assert.False(t, ok)
}

func TestParseSlcanLine_ZeroLengthFrame(t *testing.T) {
	f, ok := parseSlcanLine("t6120")
	require.True(t, ok)
	assert.Equal(t, uint32(0x612), f.ID)
	assert.Empty(t, f.Data)
}
