package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"syscall"

	"golang.org/x/term"
)

// zeroBytes overwrites a byte slice with zeros
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// passphrasePrompt reads passphrases from PassphraseEnvVar or, failing
// that, from the terminal. Prompts go to out.
type passphrasePrompt struct {
	out io.Writer
}

func (p passphrasePrompt) fromEnv() ([]byte, bool) {
	if envPass := os.Getenv(PassphraseEnvVar); envPass != "" {
		return []byte(envPass), true
	}
	return nil, false
}

func (p passphrasePrompt) read(prompt string) ([]byte, error) {
	if pass, ok := p.fromEnv(); ok {
		return pass, nil
	}
	return p.readPassword(prompt)
}

// readConfirmed asks twice on a terminal. The environment is trusted as is.
func (p passphrasePrompt) readConfirmed(prompt, confirmPrompt string) ([]byte, error) {
	if pass, ok := p.fromEnv(); ok {
		return pass, nil
	}

	passphrase, err := p.readPassword(prompt)
	if err != nil {
		return nil, err
	}

	confirm, err := p.readPassword(confirmPrompt)
	if err != nil {
		zeroBytes(passphrase)
		return nil, err
	}
	defer zeroBytes(confirm)

	if !bytes.Equal(passphrase, confirm) {
		zeroBytes(passphrase)
		return nil, fmt.Errorf("passphrases do not match")
	}
	return passphrase, nil
}

func (p passphrasePrompt) readPassword(prompt string) ([]byte, error) {
	out := p.out
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprint(out, prompt)

	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		// STDIN carries the data, so the passphrase has to come from the tty.
		tty, err := os.Open("/dev/tty")
		if err != nil {
			if runtime.GOOS == "windows" {
				return nil, fmt.Errorf("passphrase must be set via %s environment variable when STDIN is piped", PassphraseEnvVar)
			}
			return nil, fmt.Errorf("cannot read passphrase: STDIN is piped and /dev/tty is not available. Set %s environment variable", PassphraseEnvVar)
		}
		defer tty.Close()
		fd = int(tty.Fd())
	}

	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}
