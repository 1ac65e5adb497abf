// Package checksum computes the hex SHA-256 digests that storage backends report for
// uploaded objects and that archives are verified against.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrMismatch is returned by Verify when the digests differ
var ErrMismatch = errors.New("checksum mismatch")

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Bytes returns the checksum of an in-memory buffer
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports ErrMismatch when data does not hash to expected
func Verify(data []byte, expected string) error {
	if actual := Bytes(data); actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrMismatch, expected, actual)
	}
	return nil
}
