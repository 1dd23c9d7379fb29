package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsf0/ncrypt/seal"
)

// cheap KDF settings so each encrypt takes milliseconds
var fastKDF = []string{"--memory=1M", "--iterations=1"}

func runCLI(t *testing.T, stdin []byte, args ...string) ([]byte, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.Bytes(), stderr.String(), err
}

func encryptCLI(t *testing.T, plaintext []byte, extra ...string) []byte {
	t.Helper()
	args := append([]string{"encrypt"}, fastKDF...)
	out, _, err := runCLI(t, plaintext, append(args, extra...)...)
	require.NoError(t, err)
	return out
}

func TestCLI_RoundTrip(t *testing.T) {
	t.Setenv(PassphraseEnvVar, "correct horse battery staple")
	plaintext := bytes.Repeat([]byte("ncrypt round trip\n"), 5000)

	tests := map[string][]string{
		"binary":        nil,
		"base64":        {"--base64"},
		"chacha":        {"--cipher", seal.AlgChaCha20Poly1305},
		"chacha_base64": {"-b", "-c", seal.AlgChaCha20Poly1305},
	}
	for name, extra := range tests {
		t.Run(name, func(t *testing.T) {
			ct := encryptCLI(t, plaintext, extra...)
			assert.NotContains(t, string(ct), "ncrypt round trip")

			pt, _, err := runCLI(t, ct, "decrypt")
			require.NoError(t, err)
			assert.Equal(t, plaintext, pt)
		})
	}
}

func TestCLI_EmptyInput(t *testing.T) {
	t.Setenv(PassphraseEnvVar, "pw")

	ct := encryptCLI(t, nil)
	pt, _, err := runCLI(t, ct, "decrypt")
	require.NoError(t, err)
	assert.Empty(t, pt)

	info, _, err := runCLI(t, ct, "inspect")
	require.NoError(t, err)
	assert.Regexp(t, `null payload:\s+false`, string(info))
}

func TestCLI_WrongPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnvVar, "right")
	ct := encryptCLI(t, []byte("secret"))

	t.Setenv(PassphraseEnvVar, "wrong")
	out, _, err := runCLI(t, ct, "decrypt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
	assert.Empty(t, out)
}

func TestCLI_NullEnvelope(t *testing.T) {
	t.Setenv(PassphraseEnvVar, "pw")
	ct := encryptCLI(t, []byte("never read"), "--null")

	info, _, err := runCLI(t, ct, "inspect")
	require.NoError(t, err)
	assert.Regexp(t, `null payload:\s+true`, string(info))

	// Opening a null envelope unwraps nothing, so no passphrase is asked for.
	t.Setenv(PassphraseEnvVar, "")
	out, stderr, err := runCLI(t, ct, "decrypt")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NotContains(t, stderr, "Enter passphrase")
}

func TestCLI_Inspect(t *testing.T) {
	t.Setenv(PassphraseEnvVar, "pw")
	ct := encryptCLI(t, []byte("hello"), "--base64", "--cipher", seal.AlgChaCha20Poly1305)

	// inspect never needs the passphrase
	t.Setenv(PassphraseEnvVar, "")
	out, _, err := runCLI(t, ct, "inspect")
	require.NoError(t, err)

	info := string(out)
	assert.Regexp(t, `format:\s+base64`, info)
	assert.Regexp(t, `version:\s+2\n`, info)
	assert.Regexp(t, `data header version:\s+1`, info)
	assert.Regexp(t, `data algorithm:\s+`+seal.AlgChaCha20Poly1305, info)
	assert.Regexp(t, `key algorithm:\s+`+seal.AlgArgon2idXChaCha20Poly1305, info)
	assert.Regexp(t, `wrapped key:\s+\d+ bytes`, info)
}

func TestCLI_BadInput(t *testing.T) {
	t.Setenv(PassphraseEnvVar, "pw")

	tests := map[string][]byte{
		"empty":         nil,
		"unknown_magic": []byte("JFC1 not ours"),
		"truncated":     fileMagic,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := runCLI(t, in, "decrypt")
			assert.Error(t, err)
			_, _, err = runCLI(t, in, "inspect")
			assert.Error(t, err)
		})
	}
}

func TestCLI_UnknownCipher(t *testing.T) {
	t.Setenv(PassphraseEnvVar, "pw")
	args := append([]string{"encrypt", "--cipher", "ROT13"}, fastKDF...)
	_, _, err := runCLI(t, []byte("x"), args...)
	assert.ErrorIs(t, err, seal.ErrUnknownAlgorithm)
}

func TestCLI_FlagSources(t *testing.T) {
	t.Setenv(PassphraseEnvVar, "pw")

	dir := t.TempDir()
	cfg := filepath.Join(dir, "ncrypt.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(strings.Join([]string{
		"cipher: " + seal.AlgChaCha20Poly1305,
		"memory: 1M",
		"iterations: 1",
		"base64: true",
	}, "\n")), 0o600))

	inspectOf := func(t *testing.T, ct []byte) string {
		t.Helper()
		out, _, err := runCLI(t, ct, "inspect")
		require.NoError(t, err)
		return string(out)
	}

	t.Run("config_file", func(t *testing.T) {
		ct, _, err := runCLI(t, []byte("x"), "encrypt", "--config", cfg)
		require.NoError(t, err)
		info := inspectOf(t, ct)
		assert.Regexp(t, `format:\s+base64`, info)
		assert.Regexp(t, `data algorithm:\s+`+seal.AlgChaCha20Poly1305, info)
	})

	t.Run("env_over_file", func(t *testing.T) {
		t.Setenv("NCRYPT_CIPHER", seal.AlgAES256GCMHKDF1MB)
		ct, _, err := runCLI(t, []byte("x"), "encrypt", "--config", cfg)
		require.NoError(t, err)
		assert.Regexp(t, `data algorithm:\s+`+seal.AlgAES256GCMHKDF1MB, inspectOf(t, ct))
	})

	t.Run("flag_over_env", func(t *testing.T) {
		t.Setenv("NCRYPT_CIPHER", seal.AlgAES256GCMHKDF1MB)
		ct, _, err := runCLI(t, []byte("x"), "encrypt", "--config", cfg, "--cipher", seal.AlgChaCha20Poly1305)
		require.NoError(t, err)
		assert.Regexp(t, `data algorithm:\s+`+seal.AlgChaCha20Poly1305, inspectOf(t, ct))
	})

	t.Run("config_from_env", func(t *testing.T) {
		t.Setenv("NCRYPT_CONFIG", cfg)
		ct, _, err := runCLI(t, []byte("x"), "encrypt")
		require.NoError(t, err)
		info := inspectOf(t, ct)
		assert.Regexp(t, `format:\s+base64`, info)
		assert.Regexp(t, `data algorithm:\s+`+seal.AlgChaCha20Poly1305, info)
	})

	t.Run("flag_config_over_env_config", func(t *testing.T) {
		other := filepath.Join(dir, "other.yaml")
		require.NoError(t, os.WriteFile(other, []byte("cipher: "+seal.AlgAESGCM256+"\nmemory: 1M\niterations: 1\n"), 0o600))
		t.Setenv("NCRYPT_CONFIG", cfg)
		ct, _, err := runCLI(t, []byte("x"), "encrypt", "--config", other)
		require.NoError(t, err)
		assert.Regexp(t, `data algorithm:\s+`+seal.AlgAESGCM256, inspectOf(t, ct))
	})

	t.Run("bad_env_value", func(t *testing.T) {
		t.Setenv("NCRYPT_ITERATIONS", "lots")
		_, _, err := runCLI(t, []byte("x"), "encrypt", "--config", cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NCRYPT_ITERATIONS")
		assert.NotContains(t, err.Error(), "at least 1")
	})

	t.Run("missing_file", func(t *testing.T) {
		_, _, err := runCLI(t, []byte("x"), "encrypt", "--config", filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad_value", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("iterations: lots\n"), 0o600))
		_, _, err := runCLI(t, []byte("x"), "encrypt", "--config", bad)
		assert.Error(t, err)
	})
}

func TestCLI_LogLevel(t *testing.T) {
	t.Setenv(PassphraseEnvVar, "pw")

	args := append([]string{"--log-level", "info", "encrypt"}, fastKDF...)
	_, stderr, err := runCLI(t, []byte("x"), args...)
	require.NoError(t, err)
	assert.Contains(t, stderr, "encrypted")

	_, _, err = runCLI(t, nil, "--log-level", "loud", "version")
	assert.Error(t, err)
}

func TestCLI_Version(t *testing.T) {
	out, _, err := runCLI(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "ncrypt version "+Version+"\n", string(out))
}

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{in: "64", want: 64 * 1024},
		{in: "64M", want: 64 * 1024},
		{in: "64mb", want: 64 * 1024},
		{in: " 1G ", want: 1024 * 1024},
		{in: "2GB", want: 2 * 1024 * 1024},
		{in: "2048K", want: 2048},
		{in: "512K", wantErr: true},
		{in: "0", wantErr: true},
		{in: "8192G", wantErr: true},
		{in: "lots", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseMemory(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
