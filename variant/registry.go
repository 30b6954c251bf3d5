package variant

// calibrationZones is the four-zone CRC-32C layout shared by both supported
// variants: the 512 KiB calibration region divided into four equal
// sub-zones, each with its stored CRC word placed in the 4-byte gap
// immediately after the zone's data (outside the zone itself, satisfying
// the no-self-overlap invariant the teacher's crc_zones.py does not need
// to enforce because its full-file zone deliberately nests inside the
// others).
func calibrationZones(base uint32) []Zone {
	const zoneSize = 0x20000 // 128 KiB per zone, 4 zones = 512 KiB
	zones := make([]Zone, 0, 4)
	for i := 0; i < 4; i++ {
		start := base + uint32(i)*zoneSize
		dataEnd := start + zoneSize - 4
		zones = append(zones, Zone{
			Name:    zoneName(i),
			Start:   start,
			End:     dataEnd,
			CRCSlot: dataEnd,
		})
	}
	return zones
}

func zoneName(i int) string {
	names := [...]string{"CAL_ZONE_0", "CAL_ZONE_1", "CAL_ZONE_2", "CAL_ZONE_3"}
	return names[i]
}

// forbiddenRegions is the list spec §3 names explicitly for the primary
// variant, reused for both since both families share checksum-block and
// flash-counter placement per the original tool's memory map.
//
// The original tool's REJECTED_MAPS/FORBIDDEN_REGIONS tables (validated_maps.py)
// address these against its own full 0x200000-byte flash file. This core's
// CalibrationImage (spec §3) is the calibration window only, so every region
// here is anchored to base (CalibrationBase) instead of the original's
// file-relative addresses — otherwise none of them would ever overlap a
// candidate image that only ever covers [base, base+CalibrationSize).
// BOOT_CODE, which in the original's full-flash map sits ahead of the
// calibration region entirely, becomes a guard on the calibration header at
// the foot of the window instead.
func forbiddenRegions(base uint32) []ForbiddenRegion {
	return []ForbiddenRegion{
		{Name: "CAL_HEADER", Start: base, End: base + 0x000100},
		{Name: "WGDC_CHECKSUM_1", Start: base + 0x010000, End: base + 0x0100C0},
		{Name: "WGDC_CHECKSUM_2", Start: base + 0x030000, End: base + 0x030060},
		{Name: "FLASH_COUNTER", Start: base + 0x07F000, End: base + 0x080000},
	}
}

// validatedMaps is a small seed registry of calibration tables known to be
// safe to edit, grounded on the kind of boost/fuel/ignition tables the
// original tool's map catalogs describe. It is advisory only.
func validatedMaps() []ValidatedMap {
	return []ValidatedMap{
		{Offset: 0x101000, Length: 0x800, Category: CategoryFuelMap, Label: "primary fuel map"},
		{Offset: 0x102000, Length: 0x400, Category: CategoryBoostMap, Label: "WGDC boost table"},
		{Offset: 0x103000, Length: 0x400, Category: CategoryIgnition, Label: "base ignition advance"},
		{Offset: 0x104000, Length: 0x40, Category: CategoryLimiter, Label: "rev limiter / VMAX"},
	}
}

// rejectedMaps is the named blacklist validator layer 2 checks, grounded on
// the original tool's REJECTED_MAPS table: specific checksum-block tables
// that must never be touched regardless of what the coarse forbidden-region
// ranges also happen to cover. Anchored to base for the same reason
// forbiddenRegions is; both entries coincide with the WGDC checksum
// forbidden regions above, mirroring the original table's own overlap
// between REJECTED_MAPS and FORBIDDEN_REGIONS at those two addresses.
func rejectedMaps(base uint32) []ValidatedMap {
	return []ValidatedMap{
		{Offset: base + 0x010000, Length: 0xC0, Category: CategoryMisc, Label: "Checksum_Block_A"},
		{Offset: base + 0x030000, Length: 0x60, Category: CategoryMisc, Label: "Checksum_Block_B"},
	}
}

// Registry is the static, variant-keyed lookup table every other package
// consults instead of deriving layout at runtime.
var Registry = map[ID]Variant{
	MSD80: {
		ID:                    MSD80,
		BaseAddress:           0x800000,
		CalibrationBase:       0x100000,
		CalibrationSize:       0x080000,
		FullFlashSize:         0x100000,
		Zones:                 calibrationZones(0x100000),
		ForbiddenRegions:      forbiddenRegions(0x100000),
		ValidatedMaps:         validatedMaps(),
		RejectedMaps:          rejectedMaps(0x100000),
		SeedKeyAlgorithmOrder: []string{"A", "B", "C", "RFTX"},
		KnownROMIDs:           []string{"I8A0S", "I8A1S"},
		HasChecksumRoutine:    true,
	},
	MSD81: {
		ID:                    MSD81,
		BaseAddress:           0x800000,
		CalibrationBase:       0x100000,
		CalibrationSize:       0x080000,
		FullFlashSize:         0x200000,
		Zones:                 calibrationZones(0x100000),
		ForbiddenRegions:      forbiddenRegions(0x100000),
		ValidatedMaps:         validatedMaps(),
		RejectedMaps:          rejectedMaps(0x100000),
		SeedKeyAlgorithmOrder: []string{"A", "B", "C", "RFTX"},
		KnownROMIDs:           []string{"I9A0S", "I9A1S"},
		HasChecksumRoutine:    true,
	},
}

// Lookup returns the registered Variant for id, or false if unknown.
func Lookup(id ID) (Variant, bool) {
	v, ok := Registry[id]
	return v, ok
}
