package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// strongETag derives a strong ETag from serialized response bytes.
func strongETag(raw []byte) string {
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%q", hex.EncodeToString(sum[:16]))
}
