package header

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jsf0/ncrypt/nstring"
)

// Wire layouts, big-endian. Each version is a fixed shape that shares only the
// leading u16 tag.
//
// v1: version | empty:u8 | dataAlg:u16+n | keyAlg:u16+n | key:u32+n
// v2: version | dataVersion:u16 | empty:u8 | dataAlg:u16+n |
//     keyVersion:u16 | keyAlg:u16+n | key:u32+n

// Size limits enforced by New and by the decoder.
const (
	MaxAlgorithmLen = 255
	MaxKeyLen       = 64 << 10
)

type decodeFunc func(d *decoder, h *EncryptionHeader) error

type encodeFunc func(e *encoder, h *EncryptionHeader)

var decoders = map[Version]decodeFunc{
	LegacyEncryptionHeaderVersion: decodeV1,
	EncryptionHeaderVersion:       decodeV2,
}

var encoders = map[Version]encodeFunc{
	LegacyEncryptionHeaderVersion: encodeV1,
	EncryptionHeaderVersion:       encodeV2,
}

func supportedVersions() []Version {
	return []Version{EncryptionHeaderVersion, LegacyEncryptionHeaderVersion}
}

// PeekVersion reads only the leading version tag of an encoded header.
func PeekVersion(b []byte) (Version, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: %d bytes is too short for a version tag", ErrMalformed, len(b))
	}
	return Version(binary.BigEndian.Uint16(b)), nil
}

// Encode writes h in the current layout.
func Encode(w io.Writer, h *EncryptionHeader) error {
	return EncodeVersion(w, h, EncryptionHeaderVersion)
}

// EncodeVersion writes h in the layout of version v, for readers that only
// understand an older format.
func EncodeVersion(w io.Writer, h *EncryptionHeader, v Version) error {
	h.mustLive()
	enc, ok := encoders[v]
	if !ok {
		return &UnsupportedVersionError{Struct: "encryption header", Got: v, Want: supportedVersions()}
	}
	if err := h.Check(); err != nil {
		return err
	}

	e := &encoder{}
	e.u16(uint16(v))
	enc(e, h)
	if _, err := w.Write(e.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// MarshalBinary encodes h in the current layout.
func (h *EncryptionHeader) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads one header from r, allocating its containers from a. The
// version tag is read first; an unknown tag is rejected before any other byte
// is consumed. r is never read past the end of the header.
func Decode(r io.Reader, a nstring.Allocator) (*EncryptionHeader, error) {
	d := &decoder{r: r, a: a}

	v, err := d.u16("version")
	if err != nil {
		return nil, err
	}
	dec, ok := decoders[Version(v)]
	if !ok {
		return nil, &UnsupportedVersionError{Struct: "encryption header", Got: Version(v), Want: supportedVersions()}
	}

	h := &EncryptionHeader{version: Version(v)}
	if err := dec(d, h); err != nil {
		d.releaseAll()
		return nil, err
	}
	return h, nil
}

// Unmarshal decodes a header from the front of b and returns the number of
// bytes it occupied.
func Unmarshal(b []byte, a nstring.Allocator) (*EncryptionHeader, int, error) {
	r := bytes.NewReader(b)
	h, err := Decode(r, a)
	if err != nil {
		return nil, 0, err
	}
	return h, len(b) - r.Len(), nil
}

func decodeV1(d *decoder, h *EncryptionHeader) error {
	empty, err := d.flag("data header empty flag")
	if err != nil {
		return err
	}
	dataAlg, err := d.text("data header algorithm")
	if err != nil {
		return err
	}
	keyAlg, err := d.text("key header algorithm")
	if err != nil {
		return err
	}
	key, err := d.blob("wrapped key")
	if err != nil {
		return err
	}

	h.data = DataHeader{version: DataHeaderVersion, empty: empty, algorithm: dataAlg}
	h.key = KeyHeader{version: KeyHeaderVersion, algorithm: keyAlg}
	h.wrapped = key
	return nil
}

func decodeV2(d *decoder, h *EncryptionHeader) error {
	dv, err := d.u16("data header version")
	if err != nil {
		return err
	}
	if Version(dv) != DataHeaderVersion {
		return &UnsupportedVersionError{Struct: "data header", Got: Version(dv), Want: []Version{DataHeaderVersion}}
	}
	empty, err := d.flag("data header empty flag")
	if err != nil {
		return err
	}
	dataAlg, err := d.text("data header algorithm")
	if err != nil {
		return err
	}

	kv, err := d.u16("key header version")
	if err != nil {
		return err
	}
	if Version(kv) != KeyHeaderVersion {
		return &UnsupportedVersionError{Struct: "key header", Got: Version(kv), Want: []Version{KeyHeaderVersion}}
	}
	keyAlg, err := d.text("key header algorithm")
	if err != nil {
		return err
	}
	key, err := d.blob("wrapped key")
	if err != nil {
		return err
	}

	h.data = DataHeader{version: Version(dv), empty: empty, algorithm: dataAlg}
	h.key = KeyHeader{version: Version(kv), algorithm: keyAlg}
	h.wrapped = key
	return nil
}

func encodeV1(e *encoder, h *EncryptionHeader) {
	e.flag(h.data.empty)
	e.text(h.data.algorithm)
	e.text(h.key.algorithm)
	e.blob(h.wrapped)
}

func encodeV2(e *encoder, h *EncryptionHeader) {
	e.u16(uint16(h.data.version))
	e.flag(h.data.empty)
	e.text(h.data.algorithm)
	e.u16(uint16(h.key.version))
	e.text(h.key.algorithm)
	e.blob(h.wrapped)
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) flag(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

func (e *encoder) text(s *nstring.CString) {
	e.u16(uint16(s.Len()))
	e.buf.Write(s.Bytes())
}

func (e *encoder) blob(s *nstring.BString) {
	e.u32(uint32(s.Len()))
	e.buf.Write(s.Bytes())
}

type decoder struct {
	r     io.Reader
	a     nstring.Allocator
	scr   [4]byte
	owned []interface{ Release() }
}

func (d *decoder) read(what string, b []byte) error {
	if _, err := io.ReadFull(d.r, b); err != nil {
		return fmt.Errorf("%w: reading %s: %w", ErrMalformed, what, err)
	}
	return nil
}

func (d *decoder) u16(what string) (uint16, error) {
	if err := d.read(what, d.scr[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(d.scr[:2]), nil
}

func (d *decoder) u32(what string) (uint32, error) {
	if err := d.read(what, d.scr[:4]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(d.scr[:4]), nil
}

func (d *decoder) flag(what string) (bool, error) {
	if err := d.read(what, d.scr[:1]); err != nil {
		return false, err
	}
	switch d.scr[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s has value %d", ErrMalformed, what, d.scr[0])
	}
}

func (d *decoder) text(what string) (*nstring.CString, error) {
	n, err := d.u16(what + " length")
	if err != nil {
		return nil, err
	}
	if n > MaxAlgorithmLen {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrMalformed, what, n, MaxAlgorithmLen)
	}
	raw := make([]byte, n)
	if err := d.read(what, raw); err != nil {
		return nil, err
	}
	s, err := nstring.NewCStringWith(d.a, raw, len(raw))
	if errors.Is(err, nstring.ErrInvalidInput) {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, what, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s: %w", what, err)
	}
	d.owned = append(d.owned, s)
	return s, nil
}

func (d *decoder) blob(what string) (*nstring.BString, error) {
	n, err := d.u32(what + " length")
	if err != nil {
		return nil, err
	}
	if n > MaxKeyLen {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrMalformed, what, n, MaxKeyLen)
	}
	raw := make([]byte, n)
	defer zeroBytes(raw)
	if err := d.read(what, raw); err != nil {
		return nil, err
	}
	s, err := nstring.NewBStringWith(d.a, raw, len(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s: %w", what, err)
	}
	d.owned = append(d.owned, s)
	return s, nil
}

func (d *decoder) releaseAll() {
	for _, o := range d.owned {
		o.Release()
	}
	d.owned = nil
}

// zeroBytes overwrites a byte slice with zeros
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
