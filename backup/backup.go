// Package backup implements the durable, hash-verified calibration-region
// snapshots spec §3/§6 require before any erase: an immutable .bin plus a
// JSON sidecar, named so concurrent sessions never collide, grounded on the
// original tool's backup_manager.py naming/listing/verification shape.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Record is the sidecar metadata spec §6 names: { variant, timestamp,
// sha256, size, source_ecu_id }.
type Record struct {
	Variant      string    `json:"variant"`
	Timestamp    time.Time `json:"timestamp"`
	SHA256       string    `json:"sha256"`
	Size         int       `json:"size"`
	SourceECUID  string    `json:"source_ecu_id"`
	CMACTag      string    `json:"cmac_tag,omitempty"`
	BinaryPath   string    `json:"-"`
	SidecarPath  string    `json:"-"`
}

// filename returns "backup-<variant>-<iso8601>.bin" per spec §6, with
// colons stripped so the name is valid on filesystems that reject them.
func filename(variantID string, ts time.Time) string {
	stamp := strings.ReplaceAll(ts.UTC().Format(time.RFC3339), ":", "")
	return fmt.Sprintf("backup-%s-%s.bin", variantID, stamp)
}

// Write saves data as a new backup under dir, computing its SHA-256 and,
// if macKey is non-nil, a CMAC-AES128 integrity tag (see Tag in cmac.go).
// It returns the Record describing what was written; callers must not
// advance past FlashSession's unlocked phase until this succeeds and its
// hash verifies.
func Write(dir, variantID, sourceECUID string, data []byte, macKey []byte, now time.Time) (Record, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("backup: create directory %s: %w", dir, err)
	}

	sum := sha256.Sum256(data)
	rec := Record{
		Variant:     variantID,
		Timestamp:   now.UTC(),
		SHA256:      hex.EncodeToString(sum[:]),
		Size:        len(data),
		SourceECUID: sourceECUID,
	}

	binName := filename(variantID, now)
	rec.BinaryPath = filepath.Join(dir, binName)
	rec.SidecarPath = rec.BinaryPath + ".json"

	if macKey != nil {
		tag, err := Tag(macKey, data)
		if err != nil {
			return Record{}, fmt.Errorf("backup: compute CMAC tag: %w", err)
		}
		rec.CMACTag = hex.EncodeToString(tag)
	}

	if err := os.WriteFile(rec.BinaryPath, data, 0o644); err != nil {
		return Record{}, fmt.Errorf("backup: write %s: %w", rec.BinaryPath, err)
	}

	sidecar, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("backup: marshal sidecar: %w", err)
	}
	if err := os.WriteFile(rec.SidecarPath, sidecar, 0o644); err != nil {
		return Record{}, fmt.Errorf("backup: write sidecar %s: %w", rec.SidecarPath, err)
	}

	// Read back and re-hash, the way the teacher's verify-after-write
	// pattern for flashed images (moffa90-go-cyacd's programRow/verifyRow)
	// never trusts an OS write call without a read-back check.
	if err := Verify(rec); err != nil {
		return Record{}, fmt.Errorf("backup: post-write verification failed: %w", err)
	}

	return rec, nil
}

// Verify re-reads a backup's binary and confirms its size and SHA-256 still
// match the record. It does not check the CMAC tag.
func Verify(rec Record) error {
	data, err := os.ReadFile(rec.BinaryPath)
	if err != nil {
		return fmt.Errorf("backup: read %s: %w", rec.BinaryPath, err)
	}
	if len(data) != rec.Size {
		return fmt.Errorf("backup: size mismatch, recorded %d got %d", rec.Size, len(data))
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != rec.SHA256 {
		return fmt.Errorf("backup: sha256 mismatch for %s", rec.BinaryPath)
	}
	return nil
}

// Load reads a backup's bytes off disk.
func Load(rec Record) ([]byte, error) {
	return os.ReadFile(rec.BinaryPath)
}

// List returns every backup sidecar under dir for variantID (or every
// variant if variantID is empty), newest first.
func List(dir, variantID string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: read directory %s: %w", dir, err)
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		rec.SidecarPath = filepath.Join(dir, e.Name())
		rec.BinaryPath = strings.TrimSuffix(rec.SidecarPath, ".json")
		if variantID != "" && rec.Variant != variantID {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// Latest returns the most recent backup for variantID, or false if none
// exist.
func Latest(dir, variantID string) (Record, bool, error) {
	records, err := List(dir, variantID)
	if err != nil {
		return Record{}, false, err
	}
	if len(records) == 0 {
		return Record{}, false, nil
	}
	return records[0], true, nil
}
