package adaptive

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of keys accepted by Keyring.
const KeySize = 32

// ErrInvalidKey is returned for keys of the wrong size or encoding.
var ErrInvalidKey = errors.New("adaptive: key must be 32 bytes")

// ParseKey decodes a hex encoded 32-byte key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// DeriveKey derives a per-context key from master with HKDF-SHA256, so
// agents sharing one configured key never share a frame key.
func DeriveKey(master []byte, context string) ([]byte, error) {
	if len(master) != KeySize {
		return nil, ErrInvalidKey
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, nil, []byte("ckpt frame key:"+context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Keyring holds both supported ciphers for one key.
type Keyring struct {
	aes       Cipher
	chacha    Cipher
	preferred CipherType
}

// NewKeyring creates both ciphers for key and prefers the one New would
// pick on this machine.
func NewKeyring(key []byte) (*Keyring, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	a, err := NewAESGCM(key)
	if err != nil {
		return nil, err
	}
	c, err := NewChaCha20(key)
	if err != nil {
		return nil, err
	}
	k := &Keyring{aes: a, chacha: c, preferred: CipherChaCha20}
	if hasAESNI() {
		k.preferred = CipherAESGCM
	}
	return k, nil
}

// Prefer overrides the cipher used by Preferred.
func (k *Keyring) Prefer(t CipherType) error {
	if _, err := k.Get(t); err != nil {
		return err
	}
	k.preferred = t
	return nil
}

// Preferred returns the cipher to seal new data with.
func (k *Keyring) Preferred() Cipher {
	c, _ := k.Get(k.preferred)
	return c
}

// Get returns the cipher of type t.
func (k *Keyring) Get(t CipherType) (Cipher, error) {
	switch t {
	case CipherAESGCM:
		return k.aes, nil
	case CipherChaCha20:
		return k.chacha, nil
	default:
		return nil, fmt.Errorf("adaptive: unknown cipher type %q", t)
	}
}
