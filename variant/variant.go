// Package variant holds the static, variant-keyed memory layout every other
// package consults: the calibration region's CRC zone map, the forbidden
// regions that must never be touched, and the registry of tables known to
// be safe to edit. None of this is computed at runtime — it is BMW ECU
// memory organization, the Go equivalent of the teacher's hard-coded
// protocol constants.
package variant

import "fmt"

// ID names one of the two supported controller families.
type ID string

const (
	MSD80 ID = "MSD80"
	MSD81 ID = "MSD81"
)

// Zone is a contiguous, CRC-protected byte range inside the calibration
// region. CRCSlot is the 4-byte little-endian location holding the stored
// CRC-32C for [Start, End) and must lie strictly outside that range.
type Zone struct {
	Name    string
	Start   uint32
	End     uint32 // exclusive
	CRCSlot uint32
}

func (z Zone) Size() uint32 {
	return z.End - z.Start
}

// Contains reports whether the half-open byte range [offset, offset+size)
// overlaps this zone.
func (z Zone) Contains(offset, size uint32) bool {
	return !(offset+size <= z.Start || offset >= z.End)
}

// ForbiddenRegion is a half-open byte range [Start, End) no external write
// may touch.
type ForbiddenRegion struct {
	Name  string
	Start uint32
	End   uint32 // exclusive
}

func (f ForbiddenRegion) Contains(offset, size uint32) bool {
	return !(offset+size <= f.Start || offset >= f.End)
}

// ValidatedMapCategory classifies a ValidatedMap entry for logging.
type ValidatedMapCategory string

const (
	CategoryFuelMap    ValidatedMapCategory = "fuel_map"
	CategoryBoostMap   ValidatedMapCategory = "boost_map"
	CategoryIgnition   ValidatedMapCategory = "ignition_map"
	CategoryLimiter    ValidatedMapCategory = "limiter"
	CategoryMisc       ValidatedMapCategory = "misc"
)

// ValidatedMap is a registry entry describing a calibration table known to
// be safe to edit. It is advisory: the core uses it only to classify diffs
// for logging, never to gate the write.
type ValidatedMap struct {
	Offset   uint32
	Length   uint32
	Category ValidatedMapCategory
	Label    string
}

func (v ValidatedMap) Contains(offset, size uint32) bool {
	return !(offset+size <= v.Offset || offset >= v.Offset+v.Length)
}

// Variant is the complete static description of one controller family.
type Variant struct {
	ID ID

	// BaseAddress is where the ECU's address space starts (0x800000 for
	// both supported variants).
	BaseAddress uint32

	// CalibrationBase/CalibrationSize describe the tunable region inside
	// the ECU's flash, identical across both variants per spec.
	CalibrationBase uint32
	CalibrationSize uint32

	// FullFlashSize is the controller's total flash capacity — 1MiB for
	// MSD80, 2MiB for MSD81. Nothing in this module reads it.
	FullFlashSize uint32

	Zones            []Zone
	ForbiddenRegions []ForbiddenRegion
	ValidatedMaps    []ValidatedMap

	// RejectedMaps is the named blacklist layer 2 of the validator checks
	// independently of ForbiddenRegions: specific calibration tables known
	// by name to be unsafe to touch, distinct from the coarse
	// byte-range forbidden regions even where their ranges happen to
	// coincide.
	RejectedMaps []ValidatedMap

	// SeedKeyAlgorithmOrder lists this variant's seed/key algorithm order;
	// flashcore.BeginFlash replaces it with security.algorithm_order when
	// that is set. security.Manager does not read this field: it always
	// tries algorithms in security.Names() order.
	SeedKeyAlgorithmOrder []string

	// KnownROMIDs are byte signatures sniffable at a fixed offset in a
	// full flash read. Nothing in this module reads them.
	KnownROMIDs []string

	// HasChecksumRoutine reports whether this variant's controller exposes
	// the Phase G checksum-recalculation routine (spec §4.5 Phase G: "if
	// defined for the variant"). Both supported variants define it.
	HasChecksumRoutine bool
}

// ChecksumRoutineDefined reports whether Phase G should run the
// checksum-recalculation RoutineControl for this variant.
func (v Variant) ChecksumRoutineDefined() bool {
	return v.HasChecksumRoutine
}

// CalibrationEnd returns the exclusive end of the calibration region.
func (v Variant) CalibrationEnd() uint32 {
	return v.CalibrationBase + v.CalibrationSize
}

// ZonesAffectedBy returns every zone whose range overlaps [offset, offset+size).
func (v Variant) ZonesAffectedBy(offset, size uint32) []Zone {
	var affected []Zone
	for _, z := range v.Zones {
		if z.Contains(offset, size) {
			affected = append(affected, z)
		}
	}
	return affected
}

// ForbiddenRegionsAffectedBy returns every forbidden region overlapping
// [offset, offset+size).
func (v Variant) ForbiddenRegionsAffectedBy(offset, size uint32) []ForbiddenRegion {
	var affected []ForbiddenRegion
	for _, f := range v.ForbiddenRegions {
		if f.Contains(offset, size) {
			affected = append(affected, f)
		}
	}
	return affected
}

// ClassifyOffset returns the ValidatedMap entries that overlap
// [offset, offset+size), or nil if none does.
func (v Variant) ClassifyOffset(offset, size uint32) []ValidatedMap {
	var hits []ValidatedMap
	for _, m := range v.ValidatedMaps {
		if m.Contains(offset, size) {
			hits = append(hits, m)
		}
	}
	return hits
}

// Validate checks the ZoneMap invariants spec §3 requires: zones are
// non-overlapping and no zone's CRCSlot lies inside its own range.
func (v Variant) Validate() error {
	for i, a := range v.Zones {
		if a.CRCSlot >= a.Start && a.CRCSlot < a.End {
			return fmt.Errorf("variant %s: zone %s CRC slot 0x%06X lies inside its own range [0x%06X,0x%06X)", v.ID, a.Name, a.CRCSlot, a.Start, a.End)
		}
		for j, b := range v.Zones {
			if i == j {
				continue
			}
			if a.Contains(b.Start, b.Size()) {
				return fmt.Errorf("variant %s: zones %s and %s overlap", v.ID, a.Name, b.Name)
			}
		}
	}
	return nil
}
