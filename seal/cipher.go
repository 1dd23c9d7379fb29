// Package seal is the crypto collaborator behind an EncryptionHeader. It
// resolves the opaque algorithm identifiers a header carries into data
// ciphers and key wrappers, and writes or reads header-plus-ciphertext
// streams.
package seal

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Data cipher identifiers.
const (
	AlgAES256GCMHKDF1MB = "AES256-GCM-HKDF-1MB"
	AlgAESGCM256        = "AES_GCM_256"
	AlgChaCha20Poly1305 = "CHACHA20_POLY1305"
)

// Key wrapping identifiers. RSA_3072, RSA_4096 and X25519 wrap under a
// public key; the rest are symmetric.
const (
	AlgRSA3072                   = "RSA_3072"
	AlgRSA4096                   = "RSA_4096"
	AlgX25519                    = "X25519"
	AlgXChaCha20Poly1305         = "XCHACHA20-POLY1305"
	AlgArgon2idXChaCha20Poly1305 = "ARGON2ID-XCHACHA20-POLY1305"
	AlgTinkAEAD                  = "TINK-AEAD"
)

var (
	ErrUnknownAlgorithm     = errors.New("seal: unknown algorithm")
	ErrKeyAlgorithmMismatch = errors.New("seal: key was wrapped with a different algorithm")
	ErrInvalidKey           = errors.New("seal: invalid key")
	ErrDecryption           = errors.New("seal: decryption failed")
)

// DataCipher encrypts a payload stream under a data-encryption key. ad is
// authenticated but not encrypted.
type DataCipher interface {
	Algorithm() string
	KeySize() int
	NewEncryptingWriter(dek []byte, w io.Writer, ad []byte) (io.WriteCloser, error)
	NewDecryptingReader(dek []byte, r io.Reader, ad []byte) (io.Reader, error)
}

// Ciphers maps algorithm identifiers to data ciphers.
type Ciphers struct {
	mu sync.RWMutex
	m  map[string]DataCipher
}

func NewCiphers(cs ...DataCipher) *Ciphers {
	c := &Ciphers{m: make(map[string]DataCipher, len(cs))}
	for _, dc := range cs {
		c.Register(dc)
	}
	return c
}

// DefaultCiphers returns a registry with every data cipher in this package.
func DefaultCiphers() *Ciphers {
	return NewCiphers(StreamingAESGCM{}, AESGCM256{}, ChaCha20Poly1305{})
}

// Register adds dc, replacing any cipher with the same identifier.
func (c *Ciphers) Register(dc DataCipher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[dc.Algorithm()] = dc
}

func (c *Ciphers) Lookup(alg string) (DataCipher, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dc, ok := c.m[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	return dc, nil
}

// Algorithms lists the registered identifiers in sorted order.
func (c *Ciphers) Algorithms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.m))
	for alg := range c.m {
		out = append(out, alg)
	}
	sort.Strings(out)
	return out
}

func checkKeySize(dc DataCipher, dek []byte) error {
	if len(dek) != dc.KeySize() {
		return fmt.Errorf("%w: %s needs a %d-byte key, got %d", ErrInvalidKey, dc.Algorithm(), dc.KeySize(), len(dek))
	}
	return nil
}
