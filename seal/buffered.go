package seal

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tink-crypto/tink-go/v2/aead/subtle"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// maxBufferedPayload bounds what the single-message ciphers hold in memory.
const maxBufferedPayload = 256 << 20

// Both single-message ciphers use a 12-byte nonce and a 16-byte tag.
const (
	bufferedNonceLen = 12
	bufferedTagLen   = 16
)

// AESGCM256 seals the whole payload in one AES-256-GCM message:
// nonce(12) | ciphertext+tag. The payload is buffered until Close.
type AESGCM256 struct{}

func (AESGCM256) Algorithm() string { return AlgAESGCM256 }

func (AESGCM256) KeySize() int { return 32 }

func (c AESGCM256) NewEncryptingWriter(dek []byte, w io.Writer, ad []byte) (io.WriteCloser, error) {
	a, err := c.primitive(dek)
	if err != nil {
		return nil, err
	}
	return newBufferedWriter(a, w, ad), nil
}

func (c AESGCM256) NewDecryptingReader(dek []byte, r io.Reader, ad []byte) (io.Reader, error) {
	a, err := c.primitive(dek)
	if err != nil {
		return nil, err
	}
	return openBuffered(a, r, ad)
}

func (c AESGCM256) primitive(dek []byte) (tink.AEAD, error) {
	if err := checkKeySize(c, dek); err != nil {
		return nil, err
	}
	a, err := subtle.NewAESGCM(dek)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES-GCM: %w", err)
	}
	return a, nil
}

// ChaCha20Poly1305 seals the whole payload in one AEAD message:
// nonce(12) | ciphertext+tag. The payload is buffered until Close.
type ChaCha20Poly1305 struct{}

func (ChaCha20Poly1305) Algorithm() string { return AlgChaCha20Poly1305 }

func (ChaCha20Poly1305) KeySize() int { return 32 }

func (c ChaCha20Poly1305) NewEncryptingWriter(dek []byte, w io.Writer, ad []byte) (io.WriteCloser, error) {
	a, err := c.primitive(dek)
	if err != nil {
		return nil, err
	}
	return newBufferedWriter(a, w, ad), nil
}

func (c ChaCha20Poly1305) NewDecryptingReader(dek []byte, r io.Reader, ad []byte) (io.Reader, error) {
	a, err := c.primitive(dek)
	if err != nil {
		return nil, err
	}
	return openBuffered(a, r, ad)
}

func (c ChaCha20Poly1305) primitive(dek []byte) (tink.AEAD, error) {
	if err := checkKeySize(c, dek); err != nil {
		return nil, err
	}
	a, err := subtle.NewChaCha20Poly1305(dek)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305: %w", err)
	}
	return a, nil
}

func openBuffered(a tink.AEAD, r io.Reader, ad []byte) (io.Reader, error) {
	const overhead = bufferedNonceLen + bufferedTagLen
	sealed, err := io.ReadAll(io.LimitReader(r, maxBufferedPayload+overhead+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read ciphertext: %w", err)
	}
	if len(sealed) > maxBufferedPayload+overhead {
		return nil, fmt.Errorf("%w: ciphertext exceeds %d bytes", ErrDecryption, maxBufferedPayload)
	}
	if len(sealed) < overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	plain, err := a.Decrypt(sealed, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return bytes.NewReader(plain), nil
}

// bufferedWriter buffers plaintext and writes a single sealed message on
// Close.
type bufferedWriter struct {
	aead   tink.AEAD
	w      io.Writer
	ad     []byte
	buf    bytes.Buffer
	closed bool
}

func newBufferedWriter(a tink.AEAD, w io.Writer, ad []byte) *bufferedWriter {
	return &bufferedWriter{aead: a, w: w, ad: append([]byte{}, ad...)}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.closed {
		return 0, fmt.Errorf("write after close")
	}
	if b.buf.Len()+len(p) > maxBufferedPayload {
		return 0, fmt.Errorf("payload exceeds %d bytes; use %s for large inputs", maxBufferedPayload, AlgAES256GCMHKDF1MB)
	}
	return b.buf.Write(p)
}

func (b *bufferedWriter) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	defer zeroBytes(b.buf.Bytes())

	sealed, err := b.aead.Encrypt(b.buf.Bytes(), b.ad)
	if err != nil {
		return fmt.Errorf("failed to seal payload: %w", err)
	}
	if _, err := b.w.Write(sealed); err != nil {
		return fmt.Errorf("failed to write ciphertext: %w", err)
	}
	return nil
}
