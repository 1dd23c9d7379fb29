package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jsf0/ncrypt/seal"
)

const (
	Version = "2.0.0"

	// Environment variable for passphrase
	PassphraseEnvVar = "NCRYPT_PASSPHRASE"

	// Prefix for environment variables that set flags, e.g. NCRYPT_MEMORY.
	envPrefix = "NCRYPT_"
)

var log = logrus.New()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel   string
		configPath string
	)

	root := &cobra.Command{
		Use:   "ncrypt",
		Short: "Envelope encryption for streams",
		Long: `ncrypt encrypts STDIN to STDOUT under a fresh data key, wraps that key
with a passphrase-derived key, and stores both algorithms and the wrapped
key in a versioned header in front of the ciphertext.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfig(cmd, configPath); err != nil {
				return err
			}
			return setupLogging(cmd, logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warning", "Log level (panic, fatal, error, warning, info, debug, trace)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML file with default flag values")

	root.AddCommand(newEncryptCmd(), newDecryptCmd(), newInspectCmd(), newVersionCmd())
	return root
}

func setupLogging(cmd *cobra.Command, level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetOutput(cmd.ErrOrStderr())
	log.SetLevel(lvl)
	return nil
}

func newEncryptCmd() *cobra.Command {
	var memory string
	opts := EncryptOptions{
		Argon2Time: seal.DefaultKDFParams.Time,
		Cipher:     seal.AlgAES256GCMHKDF1MB,
	}

	cmd := &cobra.Command{
		Use:     "encrypt",
		Aliases: []string{"e"},
		Short:   "Encrypt data from STDIN to STDOUT",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := parseMemory(memory)
			if err != nil {
				return fmt.Errorf("invalid memory value: %w", err)
			}
			opts.Argon2Memory = val
			if opts.Argon2Time < 1 {
				return fmt.Errorf("iterations must be at least 1")
			}
			return encrypt(opts, cmd.InOrStdin(), cmd.OutOrStdout(), passphrasePrompt{out: cmd.ErrOrStderr()})
		},
	}
	fs := cmd.Flags()
	fs.BoolVarP(&opts.UseBase64, "base64", "b", false, "Use base64 encoding (text-safe but 33% larger)")
	fs.StringVarP(&memory, "memory", "m", "1G", "Argon2 memory cost. Accepts: 64M, 256M, 1G, etc.")
	fs.Uint32VarP(&opts.Argon2Time, "iterations", "i", opts.Argon2Time, "Argon2 iterations")
	fs.StringVarP(&opts.Cipher, "cipher", "c", opts.Cipher, fmt.Sprintf("Data cipher %v", seal.DefaultCiphers().Algorithms()))
	fs.BoolVar(&opts.Null, "null", false, "Write a null envelope: header only, STDIN is not read")
	return cmd
}

func newDecryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "decrypt",
		Aliases: []string{"d"},
		Short:   "Decrypt data from STDIN to STDOUT (auto-detects binary or base64)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return decrypt(cmd.InOrStdin(), cmd.OutOrStdout(), passphrasePrompt{out: cmd.ErrOrStderr()})
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the envelope header read from STDIN without decrypting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ncrypt version %s\n", Version)
		},
	}
}
