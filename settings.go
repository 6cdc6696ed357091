package idydb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Settings is the YAML shape of an options file, for embedding applications
// that configure their database from disk rather than code. Unknown fields
// are rejected.
type Settings struct {
	Path     string `yaml:"path"`
	Create   *bool  `yaml:"create"`
	ReadOnly *bool  `yaml:"readonly"`
	Unsafe   *bool  `yaml:"unsafe"`

	Encryption EncryptionSettings `yaml:"encryption"`
}

// EncryptionSettings configures the encrypted-at-rest container. The
// passphrase may be given inline or through a file (trailing CR and LF
// characters stripped); a relative file path resolves against the settings
// file.
type EncryptionSettings struct {
	Enabled        *bool   `yaml:"enabled"`
	Passphrase     string  `yaml:"passphrase"`
	PassphraseFile string  `yaml:"passphrase_file"`
	PBKDF2Iter     *uint32 `yaml:"pbkdf2_iter"`
}

// LoadSettings reads and validates an options file.
func LoadSettings(path string) (*Settings, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var s Settings
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse settings yaml: %w", err)
	}
	s.resolvePaths(path)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// resolvePaths anchors relative file references at the settings file's
// directory.
func (s *Settings) resolvePaths(settingsPath string) {
	base := filepath.Dir(settingsPath)
	if s.Path != "" && !filepath.IsAbs(s.Path) {
		s.Path = filepath.Join(base, s.Path)
	}
	if s.Encryption.PassphraseFile != "" && !filepath.IsAbs(s.Encryption.PassphraseFile) {
		s.Encryption.PassphraseFile = filepath.Join(base, s.Encryption.PassphraseFile)
	}
}

// Validate checks the settings for internal consistency.
func (s *Settings) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("settings.path is required")
	}
	enc := s.Encryption
	if enc.Enabled != nil && *enc.Enabled {
		if enc.Passphrase == "" && enc.PassphraseFile == "" {
			return fmt.Errorf("settings.encryption requires a passphrase or passphrase_file")
		}
	}
	if enc.PBKDF2Iter != nil && *enc.PBKDF2Iter != 0 && !cryptoIterOK(*enc.PBKDF2Iter) {
		return fmt.Errorf("settings.encryption.pbkdf2_iter %d outside [%d, %d]",
			*enc.PBKDF2Iter, encMinPBKDF2Iter, encMaxPBKDF2Iter)
	}
	return nil
}

// Options converts the settings into open options, reading the passphrase
// file when one is configured.
func (s *Settings) Options() (string, Options, error) {
	var opts Options
	if s.Create != nil && *s.Create {
		opts.Flags |= FlagCreate
	}
	if s.ReadOnly != nil && *s.ReadOnly {
		opts.Flags |= FlagReadOnly
	}
	if s.Unsafe != nil && *s.Unsafe {
		opts.Flags |= FlagUnsafe
	}
	enc := s.Encryption
	if enc.Enabled != nil && *enc.Enabled {
		opts.Encrypted = true
		opts.Passphrase = enc.Passphrase
		if opts.Passphrase == "" && enc.PassphraseFile != "" {
			raw, err := os.ReadFile(enc.PassphraseFile)
			if err != nil {
				return "", Options{}, fmt.Errorf("read passphrase file: %w", err)
			}
			opts.Passphrase = strings.TrimRight(string(raw), "\r\n")
		}
		if enc.PBKDF2Iter != nil {
			opts.PBKDF2Iter = *enc.PBKDF2Iter
		}
	}
	return s.Path, opts, nil
}

// PromptPassphrase reads a passphrase from the controlling terminal without
// echo, for terminal embedders that do not keep passphrases in files.
func PromptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
