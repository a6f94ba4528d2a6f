package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrSignatureInvalid is returned when a signature fails verification.
var ErrSignatureInvalid = errors.New("crypto: signature verification failed")

// Sign returns the detached hex-encoded ed25519 signature of data.
func Sign(priv PrivateKey, data []byte) string {
	sig := ed25519.Sign(ed25519.PrivateKey(priv), data)
	return hex.EncodeToString(sig)
}

// SignBytes returns the raw detached signature of data.
func SignBytes(priv PrivateKey, data []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv), data)
}

// Verify checks a hex-encoded detached signature against data using pub.
func Verify(pub PublicKey, data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	return VerifyBytes(pub, data, sig)
}

// VerifyBytes checks a raw detached signature against data using pub.
func VerifyBytes(pub PublicKey, data, sig []byte) error {
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// SignAttached produces a libsodium-style signed blob: signature || message.
// Used for state-signature transactions, where the wire format carries the
// message and its signature as one opaque value.
func SignAttached(priv PrivateKey, message []byte) []byte {
	sig := ed25519.Sign(ed25519.PrivateKey(priv), message)
	blob := make([]byte, 0, len(sig)+len(message))
	blob = append(blob, sig...)
	blob = append(blob, message...)
	return blob
}

// OpenAttached verifies and strips the signature from a signed blob produced
// by SignAttached, returning the original message.
func OpenAttached(pub PublicKey, signedBlob []byte) ([]byte, error) {
	if len(signedBlob) < ed25519.SignatureSize {
		return nil, fmt.Errorf("signed blob too short: %d bytes", len(signedBlob))
	}
	sig := signedBlob[:ed25519.SignatureSize]
	message := signedBlob[ed25519.SignatureSize:]
	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return nil, ErrSignatureInvalid
	}
	return message, nil
}
