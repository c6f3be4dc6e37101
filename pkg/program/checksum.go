package program

import (
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Checksum is the 32-byte BLAKE2b digest of a program image. It
// fingerprints the raw image bytes after any decompression, so the same
// program has the same checksum however it is stored.
type Checksum [32]byte

// ZeroChecksum is an all-zero checksum.
var ZeroChecksum Checksum

// ChecksumBytes computes the checksum of raw image bytes.
func ChecksumBytes(data []byte) Checksum {
	return Checksum(blake2b.Sum256(data))
}

// ChecksumFromBase58 decodes a base58 string into a Checksum.
func ChecksumFromBase58(s string) (Checksum, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Checksum{}, fmt.Errorf("invalid base58: %w", err)
	}
	if len(b) != 32 {
		return Checksum{}, fmt.Errorf("checksum must be 32 bytes, got %d", len(b))
	}
	var c Checksum
	copy(c[:], b)
	return c, nil
}

// Bytes returns the checksum as a byte slice.
func (c Checksum) Bytes() []byte {
	return c[:]
}

// String returns the base58 representation.
func (c Checksum) String() string {
	return base58.Encode(c[:])
}

// Hex returns the hex representation.
func (c Checksum) Hex() string {
	return hex.EncodeToString(c[:])
}

// IsZero returns true if the checksum is all zeros.
func (c Checksum) IsZero() bool {
	return c == ZeroChecksum
}
