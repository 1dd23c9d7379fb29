package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/jsf0/ncrypt/header"
	"github.com/jsf0/ncrypt/seal"
)

// fileMagic starts every ncrypt stream, before the envelope header.
var fileMagic = []byte("NCRY")

func encrypt(opts EncryptOptions, in io.Reader, out io.Writer, pp passphrasePrompt) error {
	if _, err := seal.DefaultCiphers().Lookup(opts.Cipher); err != nil {
		return err
	}

	passphrase, err := pp.readConfirmed("Enter passphrase: ", "Confirm passphrase: ")
	if err != nil {
		return fmt.Errorf("failed to get passphrase: %w", err)
	}
	defer zeroBytes(passphrase)

	if len(passphrase) == 0 {
		return fmt.Errorf("passphrase cannot be empty")
	}

	kek, err := seal.NewPassphraseKEK(passphrase, seal.KDFParams{
		Time:    opts.Argon2Time,
		Memory:  opts.Argon2Memory,
		Threads: seal.Argon2Threads,
	})
	if err != nil {
		return fmt.Errorf("failed to create key wrapper: %w", err)
	}
	defer kek.Destroy()

	// Create buffered stdout writer
	stdoutBuf := bufio.NewWriterSize(out, 1024*1024)

	var outputWriter io.WriteCloser
	if opts.UseBase64 {
		outputWriter = base64.NewEncoder(base64.StdEncoding, stdoutBuf)
	} else {
		outputWriter = &nopCloser{stdoutBuf}
	}

	if _, err := outputWriter.Write(fileMagic); err != nil {
		return fmt.Errorf("failed to write magic: %w", err)
	}

	payload := header.Present(opts.Cipher)
	if opts.Null {
		payload = header.Null(opts.Cipher)
	}

	sealer := &seal.Sealer{Wrapper: kek, Logger: log}
	reader := bufio.NewReaderSize(in, 1024*1024) // 1MB buffer
	if err := sealer.Seal(outputWriter, reader, payload); err != nil {
		return err
	}

	if err := outputWriter.Close(); err != nil {
		return fmt.Errorf("failed to finalize output: %w", err)
	}

	// Write final newline for base64 format
	if opts.UseBase64 {
		if _, err := stdoutBuf.Write([]byte("\n")); err != nil {
			return fmt.Errorf("failed to write final newline: %w", err)
		}
	}

	if err := stdoutBuf.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	log.WithFields(logrus.Fields{
		"cipher":        opts.Cipher,
		"base64":        opts.UseBase64,
		"null":          opts.Null,
		"argon2_memory": humanize.IBytes(uint64(opts.Argon2Memory) * 1024),
		"argon2_time":   opts.Argon2Time,
	}).Info("encrypted")
	return nil
}

// nopCloser wraps a Writer to provide a no-op Close method
type nopCloser struct {
	io.Writer
}

func (n *nopCloser) Close() error {
	return nil
}
