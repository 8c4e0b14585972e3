// Package crypt holds the record encryption and signing keys.
package crypt

import (
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const MasterKeySize = 32

var (
	ErrDecrypt      = errors.New("decryption failed")
	ErrMasterKeyLen = errors.New("master key must be 32 bytes")
)

type Provider struct {
	aead    cipher.AEAD
	signKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	master  []byte
}

func New(masterKey []byte) (*Provider, error) {
	if len(masterKey) != MasterKeySize {
		return nil, ErrMasterKeyLen
	}
	encKey, err := DeriveKey(masterKey, "record-encryption", chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, err
	}
	seed, err := DeriveKey(masterKey, "record-signing", ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Provider{
		aead:    aead,
		signKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		master:  append([]byte(nil), masterKey...),
	}, nil
}

// NewRandom builds a provider from a fresh master key. Anything it encrypts
// is unreadable after the process exits.
func NewRandom() (*Provider, error) {
	key := make([]byte, MasterKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return New(key)
}

// DeriveKey expands the master key with HKDF-SHA256 under the given label.
func DeriveKey(master []byte, info string, size int) ([]byte, error) {
	out := make([]byte, size)
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Derive expands this provider's master key; used by collaborators that need
// their own key material (the proof generator).
func (p *Provider) Derive(info string, size int) ([]byte, error) {
	return DeriveKey(p.master, info, size)
}

// Encrypt returns nonce || sealed(data).
func (p *Provider) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(data)+p.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return p.aead.Seal(nonce, nonce, data, nil), nil
}

func (p *Provider) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := p.aead.NonceSize()
	if len(ciphertext) < ns+p.aead.Overhead() {
		return nil, ErrDecrypt
	}
	out, err := p.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return out, nil
}

func (p *Provider) Sign(data []byte) []byte {
	return ed25519.Sign(p.signKey, data)
}

func (p *Provider) Verify(data, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(p.pubKey, data, sig)
}

func (p *Provider) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), p.pubKey...)
}
