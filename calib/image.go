package calib

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/n54tools/flashcore/variant"
)

// Image is a candidate or backup calibration region: the raw bytes plus
// the variant they're destined for. Immutable once constructed except
// inside RefreshAllCRCs, which the orchestrator calls under its own
// exclusive borrow per spec §3's "patch then re-CRC" rule.
type Image struct {
	Variant variant.Variant
	Bytes   []byte
}

// SHA256 returns the hex-encoded SHA-256 digest of the image bytes.
func (img Image) SHA256() string {
	sum := sha256.Sum256(img.Bytes)
	return fmt.Sprintf("%x", sum)
}

// LoadImage reads a candidate calibration image from disk, dispatching on
// file extension: .hex/.ihx go through gohex's Intel-HEX parser, anything
// else is read as a raw binary blob. Either way, the result's length must
// equal v.CalibrationSize — callers run the seven-layer validator next,
// which checks size explicitly, but LoadImage also refuses to return a
// clearly-wrong-shaped image.
func LoadImage(path string, v variant.Variant) (Image, error) {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihx":
		data, err = loadIntelHex(path, v)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return Image{}, err
	}
	if uint32(len(data)) != v.CalibrationSize {
		return Image{}, fmt.Errorf("calib: image %s is %d bytes, variant %s expects %d", path, len(data), v.ID, v.CalibrationSize)
	}

	return Image{Variant: v, Bytes: data}, nil
}

func loadIntelHex(path string, v variant.Variant) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("calib: open intel-hex %s: %w", path, err)
	}
	defer f.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return nil, fmt.Errorf("calib: parse intel-hex %s: %w", path, err)
	}

	data := mem.ToBinary(v.CalibrationBase, uint32(v.CalibrationSize), 0xFF)
	return data, nil
}

// SaveBinary writes the image bytes as a raw .bin file, used by backup
// writers and by anything exporting a refreshed image back to disk.
func SaveBinary(path string, img Image) error {
	return os.WriteFile(path, img.Bytes, 0o644)
}
