package main

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/jsf0/ncrypt/seal"
)

// openStream detects the output format of encrypt and returns a reader
// positioned just after the magic.
func openStream(in io.Reader) (io.Reader, string, error) {
	reader := bufio.NewReaderSize(in, 1024*1024) // 1MB buffer

	b64Magic := []byte(base64.StdEncoding.EncodeToString(fileMagic[:3]))
	peek, err := reader.Peek(len(fileMagic))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read magic (is it a valid ncrypt file?): %w", err)
	}

	var (
		stream io.Reader
		format string
	)
	switch {
	case bytes.Equal(peek, fileMagic):
		stream, format = reader, "binary"
	case bytes.Equal(peek, b64Magic):
		stream, format = base64.NewDecoder(base64.StdEncoding, reader), "base64"
	default:
		return nil, "", fmt.Errorf("invalid ncrypt file: unknown magic %q", peek)
	}

	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(stream, magic); err != nil || !bytes.Equal(magic, fileMagic) {
		return nil, "", fmt.Errorf("invalid ncrypt file: bad magic")
	}
	return stream, format, nil
}

func decrypt(in io.Reader, out io.Writer, pp passphrasePrompt) error {
	stream, format, err := openStream(in)
	if err != nil {
		return err
	}

	kek := &lazyPassphraseKEK{prompt: func() ([]byte, error) {
		return pp.read("Enter passphrase: ")
	}}
	defer kek.Destroy()

	writer := bufio.NewWriterSize(out, 1024*1024) // 1MB buffer
	sealer := &seal.Sealer{Wrapper: kek, Logger: log}
	hdr, err := sealer.Open(writer, stream)
	if err != nil {
		return fmt.Errorf("decryption failed (wrong passphrase or corrupted data?): %w", err)
	}
	defer hdr.Release()

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	log.WithFields(logrus.Fields{
		"format": format,
		"cipher": hdr.Data().Algorithm().String(),
		"null":   hdr.IsNull(),
	}).Info("decrypted")
	return nil
}

// lazyPassphraseKEK asks for the passphrase only when a key is actually
// unwrapped, so null envelopes open without a prompt.
type lazyPassphraseKEK struct {
	prompt func() ([]byte, error)
	kek    *seal.PassphraseKEK
}

func (l *lazyPassphraseKEK) Algorithm() string { return seal.AlgArgon2idXChaCha20Poly1305 }

func (l *lazyPassphraseKEK) Wrap([]byte) ([]byte, error) {
	return nil, fmt.Errorf("lazy passphrase KEK cannot wrap keys")
}

func (l *lazyPassphraseKEK) Unwrap(wrapped []byte) ([]byte, error) {
	if l.kek == nil {
		passphrase, err := l.prompt()
		if err != nil {
			return nil, fmt.Errorf("failed to get passphrase: %w", err)
		}
		defer zeroBytes(passphrase)

		l.kek, err = seal.NewPassphraseKEK(passphrase, seal.DefaultKDFParams)
		if err != nil {
			return nil, err
		}
	}
	return l.kek.Unwrap(wrapped)
}

func (l *lazyPassphraseKEK) Destroy() {
	if l.kek != nil {
		l.kek.Destroy()
	}
}
