// Package header defines the envelope-encryption metadata: which cipher
// encrypted a payload, which cipher wrapped its data-encryption key under the
// caller's KEK, and the wrapped key itself.
//
// An EncryptionHeader owns every container nested in it and is released as a
// unit. Headers are handed around as owning pointers; the nested DataHeader
// and KeyHeader live inside it by value.
package header

import (
	"fmt"

	"github.com/jsf0/ncrypt/nstring"
)

// DataHeader describes the payload. When empty is set the payload is a
// logical null; algorithm is still a live container.
type DataHeader struct {
	version   Version
	empty     bool
	algorithm *nstring.CString
}

// NewDataHeader takes ownership of alg.
func NewDataHeader(alg *nstring.CString, empty bool) (DataHeader, error) {
	if alg.Released() {
		return DataHeader{}, fmt.Errorf("%w: data header algorithm is missing", ErrMalformed)
	}
	return DataHeader{version: DataHeaderVersion, empty: empty, algorithm: alg}, nil
}

func (d *DataHeader) HeaderVersion() Version { return d.version }

// Empty reports whether the payload is a logical null.
func (d *DataHeader) Empty() bool { return d.empty }

// Algorithm is the data cipher identifier. It is borrowed from the header.
func (d *DataHeader) Algorithm() *nstring.CString { return d.algorithm }

// KeyHeader describes how the data-encryption key was wrapped.
type KeyHeader struct {
	version   Version
	algorithm *nstring.CString
}

// NewKeyHeader takes ownership of alg.
func NewKeyHeader(alg *nstring.CString) (KeyHeader, error) {
	if alg.Released() {
		return KeyHeader{}, fmt.Errorf("%w: key header algorithm is missing", ErrMalformed)
	}
	return KeyHeader{version: KeyHeaderVersion, algorithm: alg}, nil
}

func (k *KeyHeader) HeaderVersion() Version { return k.version }

// Algorithm is the key-wrapping cipher identifier. It is borrowed from the
// header.
func (k *KeyHeader) Algorithm() *nstring.CString { return k.algorithm }

// EncryptionHeader is the complete envelope.
type EncryptionHeader struct {
	version  Version
	data     DataHeader
	key      KeyHeader
	wrapped  *nstring.BString
	released bool
}

// New aggregates already built parts into a header at the current version.
// Algorithm identifiers and the wrapped key must fit the wire limits. On success the header owns all of them; on error ownership stays with the
// caller.
func New(data DataHeader, key KeyHeader, wrapped *nstring.BString) (*EncryptionHeader, error) {
	if data.algorithm.Released() {
		return nil, fmt.Errorf("%w: data header algorithm is missing", ErrMalformed)
	}
	if key.algorithm.Released() {
		return nil, fmt.Errorf("%w: key header algorithm is missing", ErrMalformed)
	}
	if wrapped.Released() {
		return nil, fmt.Errorf("%w: wrapped key is missing", ErrMalformed)
	}
	if n := data.algorithm.Len(); n > MaxAlgorithmLen {
		return nil, fmt.Errorf("%w: data algorithm is %d bytes, limit %d", ErrMalformed, n, MaxAlgorithmLen)
	}
	if n := key.algorithm.Len(); n > MaxAlgorithmLen {
		return nil, fmt.Errorf("%w: key algorithm is %d bytes, limit %d", ErrMalformed, n, MaxAlgorithmLen)
	}
	if n := wrapped.Len(); n > MaxKeyLen {
		return nil, fmt.Errorf("%w: wrapped key is %d bytes, limit %d", ErrMalformed, n, MaxKeyLen)
	}
	return &EncryptionHeader{
		version: EncryptionHeaderVersion,
		data:    data,
		key:     key,
		wrapped: wrapped,
	}, nil
}

// Payload is the caller-facing choice of data cipher together with whether a
// payload exists at all.
type Payload struct {
	Algorithm string
	null      bool
}

// Present describes a payload encrypted with alg.
func Present(alg string) Payload { return Payload{Algorithm: alg} }

// Null describes an absent payload. alg is still recorded.
func Null(alg string) Payload { return Payload{Algorithm: alg, null: true} }

func (p Payload) IsNull() bool { return p.null }

// Build copies its inputs into containers taken from a and aggregates them.
// Nothing is leaked on failure.
func Build(a nstring.Allocator, p Payload, keyAlg string, wrapped []byte) (*EncryptionHeader, error) {
	dataAlg, err := nstring.NewCStringWith(a, []byte(p.Algorithm), len(p.Algorithm))
	if err != nil {
		return nil, fmt.Errorf("failed to copy data algorithm: %w", err)
	}
	kAlg, err := nstring.NewCStringWith(a, []byte(keyAlg), len(keyAlg))
	if err != nil {
		dataAlg.Release()
		return nil, fmt.Errorf("failed to copy key algorithm: %w", err)
	}
	key, err := nstring.NewBStringWith(a, wrapped, len(wrapped))
	if err != nil {
		dataAlg.Release()
		kAlg.Release()
		return nil, fmt.Errorf("failed to copy wrapped key: %w", err)
	}

	release := func() {
		dataAlg.Release()
		kAlg.Release()
		key.Release()
	}

	dh, err := NewDataHeader(dataAlg, p.IsNull())
	if err != nil {
		release()
		return nil, err
	}
	kh, err := NewKeyHeader(kAlg)
	if err != nil {
		release()
		return nil, err
	}
	h, err := New(dh, kh, key)
	if err != nil {
		release()
		return nil, err
	}
	return h, nil
}

// Released reports whether h is nil or has been released.
func (h *EncryptionHeader) Released() bool {
	return h == nil || h.released
}

func (h *EncryptionHeader) mustLive() {
	if h.released {
		panic(nstring.ErrUseAfterRelease)
	}
}

func (h *EncryptionHeader) HeaderVersion() Version { return h.version }

// Version returns the outer format version.
func (h *EncryptionHeader) Version() Version {
	h.mustLive()
	return h.version
}

// Check applies the version gate: the outer tag first, then the nested tags.
// Nothing beyond the tags is read.
func (h *EncryptionHeader) Check() error {
	h.mustLive()
	if err := CheckVersion(h, EncryptionHeaderVersion, LegacyEncryptionHeaderVersion); err != nil {
		return err
	}
	if err := CheckVersion(&h.data, DataHeaderVersion); err != nil {
		return err
	}
	return CheckVersion(&h.key, KeyHeaderVersion)
}

func (h *EncryptionHeader) Data() *DataHeader {
	h.mustLive()
	return &h.data
}

func (h *EncryptionHeader) Key() *KeyHeader {
	h.mustLive()
	return &h.key
}

// WrappedKey is the data-encryption key encrypted under the KEK.
func (h *EncryptionHeader) WrappedKey() *nstring.BString {
	h.mustLive()
	return h.wrapped
}

// IsNull reports whether the payload is absent. Consumers must check it
// before touching any ciphertext.
func (h *EncryptionHeader) IsNull() bool {
	h.mustLive()
	return h.data.empty
}

// Release frees every nested container. It must be called exactly once.
func (h *EncryptionHeader) Release() {
	if h.released {
		panic(nstring.ErrDoubleRelease)
	}
	h.released = true
	h.data.algorithm.Release()
	h.key.algorithm.Release()
	h.wrapped.Release()
}
