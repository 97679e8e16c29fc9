// Package fingerprint computes stable content identities for documents and
// derived artifacts. The same bytes under the same operation tag always
// produce the same fingerprint; fingerprints are the sole cache and dedup key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Operation tags for document-level artifacts. Per-section enrichment tags
// are built with Plan and Summary.
const (
	OpDocument = "document"
	OpConvert  = "convert"
)

// New returns the hex fingerprint of data under the given operation tag.
// The tag is length-prefixed into the digest so that (content, op) pairs
// cannot collide by concatenation. Empty data is valid.
func New(data []byte, op string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s:", len(op), op)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Plan returns the operation tag for a section's teaching-plan artifact.
func Plan(index int) string {
	return fmt.Sprintf("plan:%d", index)
}

// Summary returns the operation tag for a section's summary artifact.
func Summary(index int) string {
	return fmt.Sprintf("summary:%d", index)
}
