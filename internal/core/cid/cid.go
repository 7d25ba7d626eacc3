// Package cid computes content identifiers: lowercase hex SHA-256 digests of raw bytes.
package cid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Length is the number of hex characters in a CID.
const Length = sha256.Size * 2

// Empty is the CID of zero-length input.
const Empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Compute returns the CID of b.
func Compute(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FromReader streams r through SHA-256 and returns its CID.
func FromReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.CopyBuffer(h, r, make([]byte, 1<<20)); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Valid reports whether s has the shape of a CID.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
