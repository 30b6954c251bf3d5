package flashcore

import (
	"fmt"

	"github.com/n54tools/flashcore/variant"
)

// Warning is one non-fatal finding, surfaced to the caller instead of
// aborting: layer 3 of the validator, or Layer 0 for the sniffVariant
// pre-check.
type Warning struct {
	Layer   int
	Message string
}

// ValidationResult carries every warning the seven-layer validator
// collected. A nil error from Validate means every hard layer passed;
// Warnings may still be non-empty and, per spec §4.5 layer 7, must be
// explicitly acknowledged by the caller before Phase B proceeds.
type ValidationResult struct {
	Warnings []Warning
}

// diffRanges returns a predicate over half-open, CalibrationBase-relative
// absolute ECU address ranges [start, end) reporting whether candidate
// differs from stock anywhere inside that range. start/end are translated
// to image-local indices the same way calib.localRange does (subtracting
// base); a range lying entirely outside [base, base+len(candidate)) never
// reports a difference, and one straddling the boundary is clamped to the
// image bounds. If stock is nil, every non-0xFF byte in candidate is
// treated as "different" per spec §4.5 layer 1's fallback ("if
// unavailable, reject any byte in a forbidden region that is non-0xFF").
func diffRanges(candidate, stock []byte, base uint32) func(start, end uint32) bool {
	local := func(abs uint32) int {
		if abs < base {
			return 0
		}
		if idx := abs - base; idx < uint32(len(candidate)) {
			return int(idx)
		}
		return len(candidate)
	}
	if stock == nil {
		return func(start, end uint32) bool {
			if start >= base+uint32(len(candidate)) || end <= base {
				return false
			}
			for i := local(start); i < local(end) && i < len(candidate); i++ {
				if candidate[i] != 0xFF {
					return true
				}
			}
			return false
		}
	}
	return func(start, end uint32) bool {
		if start >= base+uint32(len(candidate)) || end <= base {
			return false
		}
		for i := local(start); i < local(end); i++ {
			if i >= len(candidate) || i >= len(stock) {
				continue
			}
			if candidate[i] != stock[i] {
				return true
			}
		}
		return false
	}
}

// Validate runs the seven-layer pre-flash validator from spec §4.5 Phase A
// in order, returning a *ValidationRefusedError from the first hard layer
// that fails. stock may be nil if no reference image is available for the
// diff-based layers (1/3), per spec's documented fallback behavior.
func Validate(candidate, stock []byte, v variant.Variant) (ValidationResult, error) {
	diffTouches := diffRanges(candidate, stock, v.CalibrationBase)

	// Layer 4: size. Spec orders this as layer 4, but checking it first
	// here makes every later layer's byte indexing safe; the refusal still
	// reports layer 4 so callers see the spec's own numbering.
	if uint32(len(candidate)) != v.CalibrationSize {
		return ValidationResult{}, &ValidationRefusedError{
			Layer:   4,
			Details: fmt.Sprintf("image length %d does not match variant %s's declared calibration size %d", len(candidate), v.ID, v.CalibrationSize),
		}
	}

	// Layer 1: forbidden-region intersection.
	for _, region := range v.ForbiddenRegions {
		if diffTouches(region.Start, region.End) {
			return ValidationResult{}, &ValidationRefusedError{
				Layer:   1,
				Details: fmt.Sprintf("candidate differs from stock inside forbidden region %s [0x%06X,0x%06X)", region.Name, region.Start, region.End),
			}
		}
	}

	// Layer 2: rejected-map list — a named blacklist independent of the
	// coarse forbidden-region ranges layer 1 checks.
	for _, m := range v.RejectedMaps {
		if diffTouches(m.Offset, m.Offset+m.Length) {
			return ValidationResult{}, &ValidationRefusedError{
				Layer:   2,
				Details: fmt.Sprintf("candidate differs from stock inside rejected map %q [0x%06X,0x%06X)", m.Label, m.Offset, m.Offset+m.Length),
			}
		}
	}

	var warnings []Warning

	// Layer 3: registry classification — warn, don't refuse, on
	// unclassified diffs.
	unclassified := 0
	for _, zone := range v.Zones {
		if diffTouches(zone.Start, zone.End) {
			hits := v.ClassifyOffset(zone.Start, zone.Size())
			if len(hits) == 0 {
				unclassified++
			}
		}
	}
	if unclassified > 0 {
		warnings = append(warnings, Warning{
			Layer:   3,
			Message: fmt.Sprintf("%d modified zone(s) are not covered by any registered ValidatedMap entry", unclassified),
		})
	}

	// Layer 5: all-zero.
	if isAllByte(candidate, 0x00) {
		return ValidationResult{}, &ValidationRefusedError{Layer: 5, Details: "candidate image is entirely 0x00"}
	}

	// Layer 6: all-0xFF (erased, un-patched image).
	if isAllByte(candidate, 0xFF) {
		return ValidationResult{}, &ValidationRefusedError{Layer: 6, Details: "candidate image is entirely 0xFF (erased, un-patched)"}
	}

	// Layer 7: warning aggregation. Nothing further to compute — the
	// caller decides whether to proceed given ValidationResult.Warnings.

	return ValidationResult{Warnings: warnings}, nil
}

func isAllByte(data []byte, b byte) bool {
	for _, v := range data {
		if v != b {
			return false
		}
	}
	return len(data) > 0
}

// sniffVariant is the cheap pre-check named in SPEC_FULL.md's supplemented
// features: it checks only that the candidate's size matches the configured
// variant; no ROM-ID signature is checked. It never refuses on its own — it
// only contributes an extra Warning ahead of the authoritative
// seven-layer gate, grounded on flash_safety.py's BinaryValidator.
func sniffVariant(candidate []byte, v variant.Variant) []Warning {
	var warnings []Warning
	if uint32(len(candidate)) != v.CalibrationSize {
		warnings = append(warnings, Warning{Layer: 0, Message: fmt.Sprintf("pre-check: candidate size %d does not match variant %s (informational; layer 4 is authoritative)", len(candidate), v.ID)})
	}
	return warnings
}
