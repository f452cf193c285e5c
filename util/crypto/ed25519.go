package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
)

// PrivKey is an ed25519 private key used to authorize bundles
type PrivKey struct {
	privKey ed25519.PrivateKey
}

func GenerateRandomKey() (PrivKey, error) {
	return GenerateKey(rand.Reader)
}

// GenerateKey generates a new ed25519 private key reading entropy from src
func GenerateKey(src io.Reader) (PrivKey, error) {
	_, priv, err := ed25519.GenerateKey(src)
	if err != nil {
		return PrivKey{}, err
	}
	return PrivKey{privKey: priv}, nil
}

// UnmarshalPrivKey returns a private key from a 32-byte seed or a 64-byte private key
func UnmarshalPrivKey(data []byte) (PrivKey, error) {
	switch len(data) {
	case ed25519.SeedSize:
		return PrivKey{privKey: ed25519.NewKeyFromSeed(data)}, nil
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(data[:ed25519.SeedSize])
		if subtle.ConstantTimeCompare(key[ed25519.SeedSize:], data[ed25519.SeedSize:]) == 0 {
			return PrivKey{}, errors.New("public part of ed25519 private key does not match its seed")
		}
		return PrivKey{privKey: key}, nil
	default:
		return PrivKey{}, fmt.Errorf(
			"expected ed25519 data size to be %d or %d, got %d",
			ed25519.SeedSize,
			ed25519.PrivateKeySize,
			len(data),
		)
	}
}

// DecodePrivKey parses a base58 encoded key as stored in config files
func DecodePrivKey(s string) (PrivKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return PrivKey{}, err
	}
	return UnmarshalPrivKey(raw)
}

func (k PrivKey) Encode() string {
	return base58.Encode(k.privKey)
}

// Address returns the public key of k
func (k PrivKey) Address() (a Address) {
	copy(a[:], k.privKey[ed25519.PrivateKeySize-ed25519.PublicKeySize:])
	return
}

func (k PrivKey) IsEmpty() bool {
	return len(k.privKey) == 0
}

// Sign returns a signature from an input message.
func (k PrivKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.privKey, msg)
}

// Verify checks that sig is a signature of msg made by the key behind a
func (a Address) Verify(msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(a[:], msg, sig)
}
