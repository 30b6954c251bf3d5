package flashcore

import (
	"testing"

	"github.com/n54tools/flashcore/variant"
	"github.com/stretchr/testify/require"
)

func testVariant() variant.Variant {
	return variant.Variant{
		ID:              "TESTECU",
		CalibrationBase: 0x100000,
		CalibrationSize: 16,
		Zones: []variant.Zone{
			{Name: "Z0", Start: 0x100000, End: 0x10000C, CRCSlot: 0x10000C},
		},
		ForbiddenRegions: []variant.ForbiddenRegion{
			{Name: "BOOT_CODE", Start: 0x100000, End: 0x100004},
		},
		RejectedMaps: []variant.ValidatedMap{
			{Offset: 0x100008, Length: 2, Label: "Checksum_Block_A"},
		},
		ValidatedMaps: []variant.ValidatedMap{
			{Offset: 0x10000C, Length: 4, Label: "tunable table"},
		},
		SeedKeyAlgorithmOrder: []string{"A"},
	}
}

func TestValidate_HappyPath_NoWarnings(t *testing.T) {
	v := testVariant()
	stock := make([]byte, v.CalibrationSize)
	candidate := make([]byte, v.CalibrationSize)
	copy(candidate[0x0C:0x10], []byte{1, 2, 3, 4}) // only touches the registered validated map

	res, err := Validate(candidate, stock, v)
	require.NoError(t, err)
	require.Empty(t, res.Warnings)
}

func TestValidate_WrongSize_RefusedAtLayer4(t *testing.T) {
	v := testVariant()
	_, err := Validate(make([]byte, 4), nil, v)
	var refused *ValidationRefusedError
	require.ErrorAs(t, err, &refused)
	require.Equal(t, 4, refused.Layer)
}

func TestValidate_ForbiddenRegionDiff_RefusedAtLayer1(t *testing.T) {
	v := testVariant()
	stock := make([]byte, v.CalibrationSize)
	candidate := make([]byte, v.CalibrationSize)
	candidate[0] = 0xFF // inside BOOT_CODE [0x100000,0x100004)

	_, err := Validate(candidate, stock, v)
	var refused *ValidationRefusedError
	require.ErrorAs(t, err, &refused)
	require.Equal(t, 1, refused.Layer)
}

func TestValidate_ForbiddenRegionDiff_NoStock_NonFFHeuristic(t *testing.T) {
	v := testVariant()
	candidate := make([]byte, v.CalibrationSize)
	for i := range candidate {
		candidate[i] = 0xFF
	}
	candidate[1] = 0x00 // non-0xFF byte inside BOOT_CODE, no stock available

	_, err := Validate(candidate, nil, v)
	var refused *ValidationRefusedError
	require.ErrorAs(t, err, &refused)
	require.Equal(t, 1, refused.Layer)
}

func TestValidate_RejectedMapDiff_RefusedAtLayer2_EvenOutsideForbiddenRegions(t *testing.T) {
	v := testVariant()
	stock := make([]byte, v.CalibrationSize)
	candidate := make([]byte, v.CalibrationSize)
	candidate[0x08] = 0x01 // inside the rejected map, outside every forbidden region

	_, err := Validate(candidate, stock, v)
	var refused *ValidationRefusedError
	require.ErrorAs(t, err, &refused)
	require.Equal(t, 2, refused.Layer)
}

func TestValidate_UnclassifiedZoneDiff_WarnsOnlyAtLayer3(t *testing.T) {
	v := testVariant()
	stock := make([]byte, v.CalibrationSize)
	candidate := make([]byte, v.CalibrationSize)
	candidate[0x04] = 0x99 // inside zone Z0, not covered by any ValidatedMap

	res, err := Validate(candidate, stock, v)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, 3, res.Warnings[0].Layer)
}

func TestValidate_AllZero_RefusedAtLayer5(t *testing.T) {
	v := testVariant()
	candidate := make([]byte, v.CalibrationSize)
	_, err := Validate(candidate, candidate, v)
	var refused *ValidationRefusedError
	require.ErrorAs(t, err, &refused)
	require.Equal(t, 5, refused.Layer)
}

func TestValidate_AllFF_RefusedAtLayer6(t *testing.T) {
	v := testVariant()
	candidate := make([]byte, v.CalibrationSize)
	for i := range candidate {
		candidate[i] = 0xFF
	}
	_, err := Validate(candidate, candidate, v)
	var refused *ValidationRefusedError
	require.ErrorAs(t, err, &refused)
	require.Equal(t, 6, refused.Layer)
}

func TestSniffVariant_SizeMismatch_WarnsOnly(t *testing.T) {
	v := testVariant()
	warnings := sniffVariant(make([]byte, v.CalibrationSize+1), v)
	require.Len(t, warnings, 1)
	require.Equal(t, 0, warnings[0].Layer)
}

func TestSniffVariant_MatchingSize_NoWarning(t *testing.T) {
	v := testVariant()
	warnings := sniffVariant(make([]byte, v.CalibrationSize), v)
	require.Empty(t, warnings)
}

func TestIsAllByte(t *testing.T) {
	require.True(t, isAllByte([]byte{0xFF, 0xFF, 0xFF}, 0xFF))
	require.False(t, isAllByte([]byte{0xFF, 0x00, 0xFF}, 0xFF))
	require.False(t, isAllByte(nil, 0xFF))
}
