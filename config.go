package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// applyConfig fills every flag not given on the command line, first from the
// YAML file at path (if any), then from NCRYPT_* environment variables.
// Precedence: command line, environment, file, built-in default. The file
// itself may be named by NCRYPT_CONFIG.
func applyConfig(cmd *cobra.Command, path string) error {
	fs := cmd.Flags()

	set := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) {
		set[f.Name] = true
	})

	if !set["config"] {
		if e, ok := os.LookupEnv(envName(envPrefix, "config")); ok {
			path = e
		}
	}

	if path != "" {
		values, err := loadConfigFile(path)
		if err != nil {
			return err
		}
		for name, value := range values {
			f := fs.Lookup(name)
			if f == nil || set[name] {
				continue
			}
			if err := f.Value.Set(value); err != nil {
				return fmt.Errorf("invalid value for %q in %s: %w", name, path, err)
			}
		}
	}

	return setFlagsFromEnv(envPrefix, fs, set)
}

// loadConfigFile reads a flat YAML mapping of flag names to values, e.g.
//
//	cipher: CHACHA20_POLY1305
//	memory: 256M
//	log-level: debug
func loadConfigFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[k] = fmt.Sprint(v)
	}
	return values, nil
}

// envName maps a flag name to its environment variable, e.g. log-level to
// NCRYPT_LOG_LEVEL.
func envName(prefix, flag string) string {
	// remove trailing _ to reduce common errors with the prefix, i.e. people setting it to MY_PROG_
	cleanPrefix := strings.TrimSuffix(prefix, "_")
	return fmt.Sprintf("%s_%s", cleanPrefix, strings.Replace(strings.ToUpper(flag), "-", "_", -1))
}

func setFlagsFromEnv(prefix string, fs *pflag.FlagSet, set map[string]bool) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		// ignore flags set from the commandline
		if err != nil || set[f.Name] {
			return
		}
		name := envName(prefix, f.Name)
		if e, ok := os.LookupEnv(name); ok {
			if setErr := f.Value.Set(e); setErr != nil {
				err = fmt.Errorf("invalid value %q in %s: %w", e, name, setErr)
			}
		}
	})
	return err
}
