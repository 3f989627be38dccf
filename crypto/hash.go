package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Keccak256 returns the legacy Keccak-256 digest of data, the hash role
// identifiers are derived with.
func Keccak256(data ...[]byte) [32]byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var out [32]byte
	d.Sum(out[:0])
	return out
}
