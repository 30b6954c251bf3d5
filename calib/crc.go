// Package calib implements the calibration integrity engine: CRC-32C zone
// checksums and Intel-HEX/raw binary image loading.
package calib

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/n54tools/flashcore/variant"
)

// castagnoliTable implements the reflected CRC-32C (Castagnoli) polynomial
// spec §4.4 names in its normal form as 0x1EDC6F41 — Go's hash/crc32
// ships this exact table under crc32.Castagnoli, with the standard
// init=0xFFFFFFFF/final-XOR=0xFFFFFFFF behavior built into Checksum.
// No third-party package in the example corpus implements this reflected
// CRC-32C variant; hash/crc32 is the canonical, idiomatic choice here.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// ComputeZoneCRC computes the CRC-32C over a zone's data bytes, excluding
// its own CRCSlot (which by construction lies outside [Start, End)).
//
// image is the calibration-sized candidate buffer (image[0] corresponds to
// the variant's CalibrationBase absolute address); zone offsets are
// translated from absolute ECU addresses to image-local indices here so
// every other package can keep working in absolute addresses.
func ComputeZoneCRC(image []byte, z variant.Zone, v variant.Variant) (uint32, error) {
	start, end, err := localRange(image, z.Start, z.End, v)
	if err != nil {
		return 0, fmt.Errorf("calib: zone %s: %w", z.Name, err)
	}
	return crc32.Checksum(image[start:end], castagnoliTable), nil
}

// localRange translates an absolute [absStart, absEnd) ECU address range
// into an index range into image, bounds-checked against image's length.
func localRange(image []byte, absStart, absEnd uint32, v variant.Variant) (int, int, error) {
	if absStart < v.CalibrationBase || absEnd < absStart {
		return 0, 0, fmt.Errorf("range [0x%06X,0x%06X) lies outside the calibration base 0x%06X", absStart, absEnd, v.CalibrationBase)
	}
	start := int(absStart - v.CalibrationBase)
	end := int(absEnd - v.CalibrationBase)
	if end > len(image) {
		return 0, 0, fmt.Errorf("range end 0x%06X exceeds image length 0x%06X", absEnd, len(image))
	}
	return start, end, nil
}

// ZoneMismatch describes one zone whose stored CRC does not match the
// freshly computed one.
type ZoneMismatch struct {
	Zone     string
	Expected uint32
	Stored   uint32
}

// RefreshAllCRCs recomputes and writes back every zone's CRC-32C, in zone
// order, per spec §4.4's "must be called after any mutation to a zone
// before the image is transmitted" rule. Idempotent: calling it twice in a
// row produces the same bytes both times.
func RefreshAllCRCs(image []byte, v variant.Variant) error {
	for _, z := range v.Zones {
		crc, err := ComputeZoneCRC(image, z, v)
		if err != nil {
			return err
		}
		slotStart, slotEnd, err := localRange(image, z.CRCSlot, z.CRCSlot+4, v)
		if err != nil {
			return fmt.Errorf("calib: zone %s CRC slot: %w", z.Name, err)
		}
		binary.LittleEndian.PutUint32(image[slotStart:slotEnd], crc)
	}
	return nil
}

// VerifyAllCRCs recomputes every zone's CRC-32C and compares it against the
// stored value, returning every mismatch found.
func VerifyAllCRCs(image []byte, v variant.Variant) ([]ZoneMismatch, error) {
	var mismatches []ZoneMismatch
	for _, z := range v.Zones {
		crc, err := ComputeZoneCRC(image, z, v)
		if err != nil {
			return nil, err
		}
		slotStart, slotEnd, err := localRange(image, z.CRCSlot, z.CRCSlot+4, v)
		if err != nil {
			return nil, fmt.Errorf("calib: zone %s CRC slot: %w", z.Name, err)
		}
		stored := binary.LittleEndian.Uint32(image[slotStart:slotEnd])
		if stored != crc {
			mismatches = append(mismatches, ZoneMismatch{Zone: z.Name, Expected: crc, Stored: stored})
		}
	}
	return mismatches, nil
}
