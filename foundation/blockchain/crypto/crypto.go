// Package crypto provides the Ed25519 signing and hashing primitives used
// throughout the blockchain. All wire and storage encodings of keys,
// signatures, and hashes use unpadded URL-safe base64.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// Sizes, in raw bytes, of the values this package produces and consumes.
const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
	HashSize       = blake2b.Size256
)

// Wire lengths of the base64url encodings, called out in spec so callers
// can validate a string's shape before attempting to decode it.
const (
	PublicKeyStringLen = 43
	SignatureStringLen = 86
	HashStringLen      = 43
)

var errInvalidLength = errors.New("crypto: invalid encoded length")

var enc = base64.RawURLEncoding

// KeyPair holds a validator's Ed25519 key material.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new random Ed25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Sign produces a detached signature over data using the private key.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify reports whether sig is a valid detached signature over data by pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// Hash returns the 32-byte blake2b digest of data.
func Hash(data []byte) [HashSize]byte {
	return blake2b.Sum256(data)
}

// HashString returns the base64url encoding of Hash(data).
func HashString(data []byte) string {
	h := Hash(data)
	return enc.EncodeToString(h[:])
}

// EncodePublicKey renders a public key as unpadded URL-safe base64.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return enc.EncodeToString(pub)
}

// DecodePublicKey parses the wire representation of a public key.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	if len(s) != PublicKeyStringLen {
		return nil, errInvalidLength
	}
	b, err := enc.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, errInvalidLength
	}
	return ed25519.PublicKey(b), nil
}

// EncodeSignature renders a signature as unpadded URL-safe base64.
func EncodeSignature(sig []byte) string {
	return enc.EncodeToString(sig)
}

// DecodeSignature parses the wire representation of a signature.
func DecodeSignature(s string) ([]byte, error) {
	if len(s) != SignatureStringLen {
		return nil, errInvalidLength
	}
	b, err := enc.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.SignatureSize {
		return nil, errInvalidLength
	}
	return b, nil
}

// VerifyString verifies a base64url-encoded signature by a base64url-encoded
// origin public key over data. It is the shape most callers in this module
// reach for since keys and signatures travel the wire as strings.
func VerifyString(origin, sig string, data []byte) bool {
	pub, err := DecodePublicKey(origin)
	if err != nil {
		return false
	}
	rawSig, err := DecodeSignature(sig)
	if err != nil {
		return false
	}
	return Verify(pub, data, rawSig)
}
