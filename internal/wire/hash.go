package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainDiff separates diff hashes from any other hash over the same bytes.
const DomainDiff = "bizcursor/diff/v1"

// Hash returns the hex SHA-256 of the canonical encoding of d, prefixed by
// DomainDiff and a NUL byte. Equal change sets hash equally regardless of
// map iteration order.
func Hash(d *DataDiff) (string, error) {
	data, err := MarshalCanonical(d)
	if err != nil {
		return "", fmt.Errorf("hash diff: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainDiff))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
