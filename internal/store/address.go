package store

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/ripemd160"
)

// AddressPrefix is the bech32 human-readable part of blob storage keys.
const AddressPrefix = "cblob"

var ErrBadAddress = errors.New("invalid content address")

// ContentAddress derives the storage key for a blob: bech32 over
// ripemd160(sha256(data)).
func ContentAddress(data []byte) (string, error) {
	hash := sha256.Sum256(data)
	rip := ripemd160.New()
	_, _ = rip.Write(hash[:])
	sum := rip.Sum(nil)

	converted, err := bech32.ConvertBits(sum, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(AddressPrefix, converted)
}

// CheckAddress validates the checksum and prefix of a storage key.
func CheckAddress(key string) error {
	hrp, data, err := bech32.Decode(key)
	if err != nil {
		return ErrBadAddress
	}
	if hrp != AddressPrefix {
		return ErrBadAddress
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil || len(raw) != ripemd160.Size {
		return ErrBadAddress
	}
	return nil
}

// lookupKey rejects malformed storage keys before they reach a backend. The
// error matches both ErrNotFound and ErrBadAddress.
func lookupKey(key string) error {
	if err := CheckAddress(key); err != nil {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return nil
}
