package calib

import (
	"testing"

	"github.com/n54tools/flashcore/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blankCalibrationImage(v variant.Variant) []byte {
	return make([]byte, v.CalibrationSize)
}

func localIndex(v variant.Variant, absAddr uint32) uint32 {
	return absAddr - v.CalibrationBase
}

func TestRefreshAllCRCs_IsIdempotent(t *testing.T) {
	v, _ := variant.Lookup(variant.MSD80)
	image := blankCalibrationImage(v)
	for i := range image {
		image[i] = byte(i % 251)
	}

	require.NoError(t, RefreshAllCRCs(image, v))
	first := append([]byte{}, image...)

	require.NoError(t, RefreshAllCRCs(image, v))
	assert.Equal(t, first, image)

	mismatches, err := VerifyAllCRCs(image, v)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestVerifyAllCRCs_DetectsCorruption(t *testing.T) {
	v, _ := variant.Lookup(variant.MSD80)
	image := blankCalibrationImage(v)
	require.NoError(t, RefreshAllCRCs(image, v))

	image[localIndex(v, v.Zones[1].Start)] ^= 0xFF

	mismatches, err := VerifyAllCRCs(image, v)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, v.Zones[1].Name, mismatches[0].Zone)
}

func TestComputeZoneCRC_DependsOnlyOnZoneBytes(t *testing.T) {
	v, _ := variant.Lookup(variant.MSD80)
	imageA := blankCalibrationImage(v)
	imageB := blankCalibrationImage(v)

	// Mutate a byte outside zone 0 in imageB only.
	imageB[localIndex(v, v.Zones[2].Start)] = 0x7A

	crcA, err := ComputeZoneCRC(imageA, v.Zones[0], v)
	require.NoError(t, err)
	crcB, err := ComputeZoneCRC(imageB, v.Zones[0], v)
	require.NoError(t, err)
	assert.Equal(t, crcA, crcB)
}

func TestComputeZoneCRC_RejectsImageShorterThanZone(t *testing.T) {
	v, _ := variant.Lookup(variant.MSD80)
	_, err := ComputeZoneCRC(make([]byte, 16), v.Zones[0], v)
	assert.Error(t, err)
}
