package seal

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeyWrapper encrypts data-encryption keys under a key-encryption key.
type KeyWrapper interface {
	Algorithm() string
	Wrap(dek []byte) ([]byte, error)
	Unwrap(wrapped []byte) ([]byte, error)
}

// XChaChaKEK wraps keys with XChaCha20-Poly1305 under a raw 32-byte KEK.
// Wrapped form: nonce(24) | ciphertext+tag.
type XChaChaKEK struct {
	kek []byte
}

// NewXChaChaKEK copies kek, which must be 32 bytes.
func NewXChaChaKEK(kek []byte) (*XChaChaKEK, error) {
	if len(kek) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: KEK must be %d bytes, got %d", ErrInvalidKey, chacha20poly1305.KeySize, len(kek))
	}
	return &XChaChaKEK{kek: append([]byte{}, kek...)}, nil
}

func (x *XChaChaKEK) Algorithm() string { return AlgXChaCha20Poly1305 }

func (x *XChaChaKEK) Wrap(dek []byte) ([]byte, error) {
	return xchachaWrap(x.kek, dek, []byte(AlgXChaCha20Poly1305))
}

func (x *XChaChaKEK) Unwrap(wrapped []byte) ([]byte, error) {
	return xchachaUnwrap(x.kek, wrapped, []byte(AlgXChaCha20Poly1305))
}

// Destroy wipes the KEK.
func (x *XChaChaKEK) Destroy() { zeroBytes(x.kek) }

func xchachaWrap(kek, dek, ad []byte) ([]byte, error) {
	a, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
	}
	nonce := make([]byte, a.NonceSize(), a.NonceSize()+len(dek)+a.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return a.Seal(nonce, nonce, dek, ad), nil
}

func xchachaUnwrap(kek, wrapped, ad []byte) ([]byte, error) {
	a, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
	}
	if len(wrapped) < a.NonceSize()+a.Overhead() {
		return nil, fmt.Errorf("%w: wrapped key too short", ErrDecryption)
	}
	nonce, ct := wrapped[:a.NonceSize()], wrapped[a.NonceSize():]
	dek, err := a.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot unwrap key (wrong passphrase or KEK?): %w", ErrDecryption, err)
	}
	return dek, nil
}

const (
	// Argon2id fixed parameters
	Argon2Threads = 4
	Argon2KeyLen  = 32 // 256 bits for AES-256
	SaltLen       = 16

	// Upper bounds accepted when reading parameters back from a wrapped key.
	maxArgon2Time   = 64
	maxArgon2Memory = 4 * 1024 * 1024 // 4 GiB in KiB

	kdfHeaderLen = 4 + 4 + 1 + SaltLen
)

// KDFParams contains Argon2id parameters for key derivation
type KDFParams struct {
	Time    uint32 `yaml:"time"`
	Memory  uint32 `yaml:"memory"` // in KiB
	Threads uint8  `yaml:"threads"`
}

// DefaultKDFParams are used when a PassphraseKEK is built with zero params.
var DefaultKDFParams = KDFParams{Time: 3, Memory: 1024 * 1024, Threads: Argon2Threads}

func (p KDFParams) validate() error {
	if p.Time < 1 || p.Time > maxArgon2Time {
		return fmt.Errorf("%w: argon2 iterations %d out of range 1..%d", ErrInvalidKey, p.Time, maxArgon2Time)
	}
	if p.Memory < 8*uint32(max(p.Threads, 1)) || p.Memory > maxArgon2Memory {
		return fmt.Errorf("%w: argon2 memory %d KiB out of range", ErrInvalidKey, p.Memory)
	}
	if p.Threads < 1 {
		return fmt.Errorf("%w: argon2 threads must be at least 1", ErrInvalidKey)
	}
	return nil
}

// deriveKey derives an encryption key from a passphrase using Argon2id
func deriveKey(passphrase, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Threads, Argon2KeyLen)
}

// PassphraseKEK derives its KEK from a passphrase with Argon2id. Every wrap
// draws a fresh salt, and the parameters travel with the wrapped key:
// time(4) | memory(4) | threads(1) | salt(16) | nonce(24) | ciphertext+tag.
type PassphraseKEK struct {
	passphrase []byte
	params     KDFParams
}

// NewPassphraseKEK copies passphrase. Zero params select DefaultKDFParams.
func NewPassphraseKEK(passphrase []byte, params KDFParams) (*PassphraseKEK, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	if params == (KDFParams{}) {
		params = DefaultKDFParams
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &PassphraseKEK{passphrase: append([]byte{}, passphrase...), params: params}, nil
}

func (p *PassphraseKEK) Algorithm() string { return AlgArgon2idXChaCha20Poly1305 }

func (p *PassphraseKEK) Wrap(dek []byte) ([]byte, error) {
	hdr := make([]byte, kdfHeaderLen)
	binary.BigEndian.PutUint32(hdr[0:], p.params.Time)
	binary.BigEndian.PutUint32(hdr[4:], p.params.Memory)
	hdr[8] = p.params.Threads
	salt := hdr[9:]
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	kek := deriveKey(p.passphrase, salt, p.params)
	defer zeroBytes(kek)

	sealed, err := xchachaWrap(kek, dek, hdr)
	if err != nil {
		return nil, err
	}
	return append(hdr, sealed...), nil
}

func (p *PassphraseKEK) Unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) < kdfHeaderLen {
		return nil, fmt.Errorf("%w: wrapped key too short", ErrDecryption)
	}
	hdr := wrapped[:kdfHeaderLen]
	params := KDFParams{
		Time:    binary.BigEndian.Uint32(hdr[0:]),
		Memory:  binary.BigEndian.Uint32(hdr[4:]),
		Threads: hdr[8],
	}
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("%w: stored KDF parameters: %w", ErrDecryption, err)
	}

	kek := deriveKey(p.passphrase, hdr[9:], params)
	defer zeroBytes(kek)

	return xchachaUnwrap(kek, wrapped[kdfHeaderLen:], hdr)
}

// Destroy wipes the passphrase.
func (p *PassphraseKEK) Destroy() { zeroBytes(p.passphrase) }

// TinkKEK wraps keys with any Tink AEAD keyset, such as one loaded from a KMS
// or a keyset file.
type TinkKEK struct {
	primitive tink.AEAD
}

func NewTinkKEK(h *keyset.Handle) (*TinkKEK, error) {
	primitive, err := aead.New(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD from keyset: %w", err)
	}
	return &TinkKEK{primitive: primitive}, nil
}

// NewTinkKEKFromTemplate generates a fresh AES-256-GCM keyset. It is meant
// for tests and ephemeral use; the keyset is lost with the process.
func NewTinkKEKFromTemplate() (*TinkKEK, *keyset.Handle, error) {
	h, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create keyset: %w", err)
	}
	k, err := NewTinkKEK(h)
	if err != nil {
		return nil, nil, err
	}
	return k, h, nil
}

func (t *TinkKEK) Algorithm() string { return AlgTinkAEAD }

func (t *TinkKEK) Wrap(dek []byte) ([]byte, error) {
	wrapped, err := t.primitive.Encrypt(dek, []byte(AlgTinkAEAD))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}
	return wrapped, nil
}

func (t *TinkKEK) Unwrap(wrapped []byte) ([]byte, error) {
	dek, err := t.primitive.Decrypt(wrapped, []byte(AlgTinkAEAD))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot unwrap key: %w", ErrDecryption, err)
	}
	return dek, nil
}
