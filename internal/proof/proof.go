// Package proof binds encrypted record payloads to a fixed-length commitment.
//
// A proof is three 32-byte segments: the payload digest, a keyed commitment
// over that digest, and a binding hash tying both to the verification key.
// Verification recomputes all three.
package proof

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/blake2b"
)

const (
	segmentSize = 32
	Size        = 3 * segmentSize
	KeySize     = 32
)

var ErrKeySize = errors.New("proof key must be 32 bytes")

type Generator struct {
	key []byte
}

func New(key []byte) (*Generator, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	// blake2b accepts keys up to 64 bytes; validate once so Generate never fails.
	if _, err := blake2b.New256(key); err != nil {
		return nil, err
	}
	return &Generator{key: append([]byte(nil), key...)}, nil
}

func (g *Generator) Generate(data []byte) []byte {
	base := sha256.Sum256(data)

	h, _ := blake2b.New256(g.key)
	h.Write(base[:])
	commitment := h.Sum(nil)

	bind := sha256.New()
	bind.Write(commitment)
	bind.Write(base[:])
	bind.Write(g.key)

	out := make([]byte, 0, Size)
	out = append(out, base[:]...)
	out = append(out, commitment...)
	return bind.Sum(out)
}

// Verify fails closed on malformed proofs.
func (g *Generator) Verify(data, proof []byte) bool {
	if len(proof) != Size {
		return false
	}
	return subtle.ConstantTimeCompare(g.Generate(data), proof) == 1
}

// Equal compares two proofs byte for byte in constant time.
func Equal(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
