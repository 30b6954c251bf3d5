package backup

import (
	"crypto/aes"
	"fmt"

	"github.com/chmike/cmac-go"
)

// Tag computes a CMAC-AES128 integrity tag over data using key, the
// belt-and-suspenders check spec §6 names alongside the SHA-256 hash: the
// hash catches accidental corruption, the CMAC catches tampering by anyone
// without key. key must be 16, 24, or 32 bytes (AES-128/192/256).
func Tag(key, data []byte) ([]byte, error) {
	h, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("backup: init cmac: %w", err)
	}
	if _, err := h.Write(data); err != nil {
		return nil, fmt.Errorf("backup: cmac write: %w", err)
	}
	return h.Sum(nil), nil
}
