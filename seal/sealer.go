package seal

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/jsf0/ncrypt/header"
	"github.com/jsf0/ncrypt/nstring"
)

// NullBytes is a payload that may be absent.
type NullBytes struct {
	Bytes []byte
	Valid bool
}

// nullDEKLen sizes the throwaway key wrapped into null envelopes so they look
// like any other header.
const nullDEKLen = 32

var (
	defaultCiphers = DefaultCiphers()
	quietLogger    = newQuietLogger()
)

func newQuietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// Sealer writes and reads envelopes: an encoded EncryptionHeader followed by
// the payload ciphertext. The encoded header is the associated data of the
// ciphertext, so neither can be swapped without detection.
//
// A Sealer is never modified by its methods, so one value may be shared by
// concurrent callers provided its Wrapper is safe for concurrent use.
type Sealer struct {
	Ciphers   *Ciphers
	Wrapper   KeyWrapper
	Allocator nstring.Allocator
	Logger    *logrus.Logger
}

func (s *Sealer) ciphers() *Ciphers {
	if s.Ciphers == nil {
		return defaultCiphers
	}
	return s.Ciphers
}

func (s *Sealer) log() *logrus.Logger {
	if s.Logger == nil {
		return quietLogger
	}
	return s.Logger
}

// Seal encrypts src into w under a fresh data-encryption key. For a null
// payload only the header is written; src is not read and no data cipher is
// used.
func (s *Sealer) Seal(w io.Writer, src io.Reader, p header.Payload) error {
	if s.Wrapper == nil {
		return fmt.Errorf("seal: no key wrapper configured")
	}

	var dc DataCipher
	dekLen := nullDEKLen
	if !p.IsNull() {
		var err error
		if dc, err = s.ciphers().Lookup(p.Algorithm); err != nil {
			return err
		}
		dekLen = dc.KeySize()
	}

	dek := make([]byte, dekLen)
	defer zeroBytes(dek)
	if _, err := rand.Read(dek); err != nil {
		return fmt.Errorf("failed to generate data key: %w", err)
	}

	wrapped, err := s.Wrapper.Wrap(dek)
	if err != nil {
		return fmt.Errorf("failed to wrap data key: %w", err)
	}

	hdr, err := header.Build(s.Allocator, p, s.Wrapper.Algorithm(), wrapped)
	if err != nil {
		return fmt.Errorf("failed to build header: %w", err)
	}
	headerBytes, err := hdr.MarshalBinary()
	hdr.Release()
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	entry := s.log().WithFields(logrus.Fields{
		"data_algorithm": p.Algorithm,
		"key_algorithm":  s.Wrapper.Algorithm(),
		"null":           p.IsNull(),
	})
	if p.IsNull() {
		entry.Debug("sealed null payload")
		return nil
	}

	encWriter, err := dc.NewEncryptingWriter(dek, w, headerBytes)
	if err != nil {
		return err
	}
	n, err := io.Copy(encWriter, src)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("failed to finalize encryption: %w", err)
	}
	entry.WithField("bytes", n).Debug("sealed payload")
	return nil
}

// Open reads an envelope from src and writes the plaintext to w. The header
// is version-checked before any other field is used, and a null payload
// returns before any ciphertext is read. The caller owns and must release
// the returned header.
func (s *Sealer) Open(w io.Writer, src io.Reader) (*header.EncryptionHeader, error) {
	var raw bytes.Buffer
	hdr, err := header.Decode(io.TeeReader(src, &raw), s.Allocator)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := hdr.Check(); err != nil {
		hdr.Release()
		return nil, err
	}

	entry := s.log().WithFields(logrus.Fields{
		"version":        hdr.Version(),
		"data_algorithm": hdr.Data().Algorithm().String(),
		"key_algorithm":  hdr.Key().Algorithm().String(),
	})
	if hdr.IsNull() {
		entry.Debug("payload is null, skipping decryption")
		return hdr, nil
	}

	if err := s.decrypt(w, src, hdr, raw.Bytes()); err != nil {
		hdr.Release()
		return nil, err
	}
	entry.Debug("opened payload")
	return hdr, nil
}

func (s *Sealer) decrypt(w io.Writer, src io.Reader, hdr *header.EncryptionHeader, ad []byte) error {
	if s.Wrapper == nil {
		return fmt.Errorf("seal: no key wrapper configured")
	}
	keyAlg := hdr.Key().Algorithm().String()
	if keyAlg != s.Wrapper.Algorithm() {
		return fmt.Errorf("%w: header says %q, wrapper is %q", ErrKeyAlgorithmMismatch, keyAlg, s.Wrapper.Algorithm())
	}
	dc, err := s.ciphers().Lookup(hdr.Data().Algorithm().String())
	if err != nil {
		return err
	}

	dek, err := s.Wrapper.Unwrap(hdr.WrappedKey().Bytes())
	if err != nil {
		return err
	}
	defer zeroBytes(dek)

	decReader, err := dc.NewDecryptingReader(dek, src, ad)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("%w: wrong key or corrupted data: %w", ErrDecryption, err)
	}
	return nil
}

// SealBytes seals an in-memory payload with data cipher alg.
func (s *Sealer) SealBytes(data NullBytes, alg string) ([]byte, error) {
	p := header.Present(alg)
	if !data.Valid {
		p = header.Null(alg)
	}
	var out bytes.Buffer
	if err := s.Seal(&out, bytes.NewReader(data.Bytes), p); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// OpenBytes opens an in-memory envelope. A null payload yields Valid false.
func (s *Sealer) OpenBytes(envelope []byte) (NullBytes, error) {
	var out bytes.Buffer
	hdr, err := s.Open(&out, bytes.NewReader(envelope))
	if err != nil {
		return NullBytes{}, err
	}
	defer hdr.Release()
	if hdr.IsNull() {
		return NullBytes{}, nil
	}
	return NullBytes{Bytes: out.Bytes(), Valid: true}, nil
}

// zeroBytes overwrites a byte slice with zeros
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
