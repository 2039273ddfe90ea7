package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherType identifies the cipher algorithm. Frames record it so readers
// pick the matching cipher.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// ErrShortCiphertext is returned when sealed data is shorter than a nonce.
var ErrShortCiphertext = errors.New("adaptive: ciphertext too short")

// Cipher seals and opens data with a random nonce prepended to the
// ciphertext. Additional data is authenticated but not stored.
type Cipher interface {
	Type() CipherType
	Encrypt(plaintext, additionalData []byte) ([]byte, error)
	Decrypt(sealed, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// aead adapts a cipher.AEAD to Cipher.
type aead struct {
	typ CipherType
	cipher.AEAD
}

func (a *aead) Type() CipherType { return a.typ }

func (a *aead) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, a.NonceSize(), a.NonceSize()+len(plaintext)+a.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return a.Seal(nonce, nonce, plaintext, additionalData), nil
}

func (a *aead) Decrypt(sealed, additionalData []byte) ([]byte, error) {
	n := a.NonceSize()
	if len(sealed) < n {
		return nil, ErrShortCiphertext
	}
	return a.Open(nil, sealed[:n], sealed[n:], additionalData)
}

// NewAESGCM returns AES-GCM with a 16, 24 or 32 byte key.
func NewAESGCM(key []byte) (Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("adaptive: AES-GCM key must be 16, 24 or 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aead{typ: CipherAESGCM, AEAD: gcm}, nil
}

// NewChaCha20 returns ChaCha20-Poly1305 with a 32 byte key.
func NewChaCha20(key []byte) (Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("adaptive: ChaCha20-Poly1305 key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &aead{typ: CipherChaCha20, AEAD: c}, nil
}

// NewWithType creates a cipher of the given type.
func NewWithType(key []byte, t CipherType) (Cipher, error) {
	switch t {
	case CipherAESGCM:
		return NewAESGCM(key)
	case CipherChaCha20:
		return NewChaCha20(key)
	default:
		return nil, fmt.Errorf("adaptive: unknown cipher type %q", t)
	}
}

// hasAESNI reports whether crypto/aes runs on hardware instructions here.
// Go uses them on amd64 and arm64.
func hasAESNI() bool {
	return runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"
}
