package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashEvent returns the 64-hex-char BLAKE2b-256 hash of data, used for
// event ids and state hashes.
func HashEvent(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashEventBytes returns the raw BLAKE2b-256 bytes of data.
func HashEventBytes(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// HashTx returns the 32-byte SHA-256 hash of data, used for transaction ids.
func HashTx(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HashTxHex returns HashTx hex-encoded.
func HashTxHex(data []byte) string {
	h := HashTx(data)
	return hex.EncodeToString(h[:])
}
