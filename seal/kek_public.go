package seal

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/tink-crypto/tink-go/v2/hybrid"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// errPublicOnly is returned by Unwrap on a wrapper built from a public key.
var errPublicOnly = errors.New("wrapper holds only a public key")

// X25519KEK wraps keys with HPKE over X25519 (DHKEM-X25519-HKDF-SHA256,
// HKDF-SHA256, AES-256-GCM). A producer needs only the public keyset to
// wrap; unwrapping needs the private one.
type X25519KEK struct {
	enc tink.HybridEncrypt
	dec tink.HybridDecrypt
}

// NewX25519KEK builds a wrapper that can both wrap and unwrap from a private
// HPKE keyset.
func NewX25519KEK(private *keyset.Handle) (*X25519KEK, error) {
	public, err := private.Public()
	if err != nil {
		return nil, fmt.Errorf("failed to derive public keyset: %w", err)
	}
	k, err := NewX25519PublicKEK(public)
	if err != nil {
		return nil, err
	}
	k.dec, err = hybrid.NewHybridDecrypt(private)
	if err != nil {
		return nil, fmt.Errorf("failed to create hybrid decrypt: %w", err)
	}
	return k, nil
}

// NewX25519PublicKEK builds a wrap-only wrapper from a public HPKE keyset.
func NewX25519PublicKEK(public *keyset.Handle) (*X25519KEK, error) {
	enc, err := hybrid.NewHybridEncrypt(public)
	if err != nil {
		return nil, fmt.Errorf("failed to create hybrid encrypt: %w", err)
	}
	return &X25519KEK{enc: enc}, nil
}

// NewX25519KEKFromTemplate generates a fresh private keyset and returns a
// wrapper for it together with the handle.
func NewX25519KEKFromTemplate() (*X25519KEK, *keyset.Handle, error) {
	h, err := keyset.NewHandle(hybrid.DHKEM_X25519_HKDF_SHA256_HKDF_SHA256_AES_256_GCM_Key_Template())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create keyset: %w", err)
	}
	k, err := NewX25519KEK(h)
	if err != nil {
		return nil, nil, err
	}
	return k, h, nil
}

func (x *X25519KEK) Algorithm() string { return AlgX25519 }

func (x *X25519KEK) Wrap(dek []byte) ([]byte, error) {
	wrapped, err := x.enc.Encrypt(dek, []byte(AlgX25519))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}
	return wrapped, nil
}

func (x *X25519KEK) Unwrap(wrapped []byte) ([]byte, error) {
	if x.dec == nil {
		return nil, fmt.Errorf("%w: %s %w", ErrInvalidKey, AlgX25519, errPublicOnly)
	}
	dek, err := x.dec.Decrypt(wrapped, []byte(AlgX25519))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot unwrap key: %w", ErrDecryption, err)
	}
	return dek, nil
}

// RSAOAEPKEK wraps keys with RSA-OAEP (SHA-256) under a 3072 or 4096 bit
// key. The identifier follows the modulus size.
type RSAOAEPKEK struct {
	alg  string
	pub  *rsa.PublicKey
	priv *rsa.PrivateKey
}

// NewRSAOAEPKEK builds a wrapper that can both wrap and unwrap.
func NewRSAOAEPKEK(priv *rsa.PrivateKey) (*RSAOAEPKEK, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: missing RSA private key", ErrInvalidKey)
	}
	k, err := NewRSAOAEPPublicKEK(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	k.priv = priv
	return k, nil
}

// NewRSAOAEPPublicKEK builds a wrap-only wrapper.
func NewRSAOAEPPublicKEK(pub *rsa.PublicKey) (*RSAOAEPKEK, error) {
	if pub == nil || pub.N == nil {
		return nil, fmt.Errorf("%w: missing RSA public key", ErrInvalidKey)
	}
	var alg string
	switch bits := pub.N.BitLen(); bits {
	case 3072:
		alg = AlgRSA3072
	case 4096:
		alg = AlgRSA4096
	default:
		return nil, fmt.Errorf("%w: RSA key is %d bits, want 3072 or 4096", ErrInvalidKey, bits)
	}
	return &RSAOAEPKEK{alg: alg, pub: pub}, nil
}

func (r *RSAOAEPKEK) Algorithm() string { return r.alg }

func (r *RSAOAEPKEK) Wrap(dek []byte) ([]byte, error) {
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, r.pub, dek, []byte(r.alg))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}
	return wrapped, nil
}

func (r *RSAOAEPKEK) Unwrap(wrapped []byte) ([]byte, error) {
	if r.priv == nil {
		return nil, fmt.Errorf("%w: %s %w", ErrInvalidKey, r.alg, errPublicOnly)
	}
	dek, err := rsa.DecryptOAEP(sha256.New(), nil, r.priv, wrapped, []byte(r.alg))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot unwrap key: %w", ErrDecryption, err)
	}
	return dek, nil
}
