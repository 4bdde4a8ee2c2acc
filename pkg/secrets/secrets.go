// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets holds credentials in guarded memory.
//
// # Description
//
// API keys and hosting tokens are sealed in memguard enclaves as soon as
// they are read from the environment or a mounted secret file. Callers
// open them only for the duration of a request.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// DefaultSecretsDir is where container runtimes mount secret files.
const DefaultSecretsDir = "/run/secrets"

// ErrMissing is returned when a secret is neither in the environment nor
// in the secrets directory.
var ErrMissing = errors.New("secret not configured")

var initOnce sync.Once

// Init installs the interrupt handler that wipes guarded memory on
// SIGINT/SIGTERM and logs the mlock status. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		memguard.CatchInterrupt()
		ok, limitKB := MlockAvailable()
		if ok {
			slog.Info("Secure memory initialized", "mlock_limit_kb", limitKB)
		} else {
			slog.Warn("mlock limit is low, secrets may be swapped to disk",
				"mlock_limit_kb", limitKB, "required_kb", MinMlockLimitKB)
		}
	})
}

// Purge wipes every guarded buffer. Called on shutdown.
func Purge() {
	memguard.Purge()
}

// Secret is a named credential sealed in an enclave.
//
// # Thread Safety
//
// Safe for concurrent use. Each Use opens its own buffer.
type Secret struct {
	name    string
	enclave *memguard.Enclave
}

// New seals value. The caller's slice is wiped.
func New(name string, value []byte) *Secret {
	s := &Secret{name: name}
	if len(value) > 0 {
		s.enclave = memguard.NewEnclave(value)
	}
	return s
}

// FromString seals a string value.
func FromString(name, value string) *Secret {
	return New(name, []byte(strings.TrimSpace(value)))
}

// Load reads envVar, then <dir>/<file>. An empty dir uses DefaultSecretsDir.
//
// # Outputs
//
//   - *Secret: The sealed credential.
//   - error: ErrMissing when neither source is set.
func Load(name, envVar, dir, file string) (*Secret, error) {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return New(name, []byte(v)), nil
	}
	if file != "" {
		if dir == "" {
			dir = DefaultSecretsDir
		}
		path := filepath.Join(dir, file)
		if raw, err := os.ReadFile(path); err == nil {
			slog.Info("Read secret from secrets directory", "secret", name, "path", path)
			value := []byte(strings.TrimSpace(string(raw)))
			memguard.WipeBytes(raw)
			return New(name, value), nil
		}
	}
	return nil, fmt.Errorf("%s (%s): %w", name, envVar, ErrMissing)
}

// Name returns the secret's label, safe to log.
func (s *Secret) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Empty reports whether the secret holds no value.
func (s *Secret) Empty() bool {
	return s == nil || s.enclave == nil
}

// Use opens the secret and passes its bytes to fn. The buffer is
// destroyed when fn returns; fn must not retain the slice.
func (s *Secret) Use(fn func(value []byte) error) error {
	if s.Empty() {
		return fmt.Errorf("%s: %w", s.Name(), ErrMissing)
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("open secret %s: %w", s.name, err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Reveal returns a heap copy of the secret for APIs that only accept a
// string. Prefer Use.
func (s *Secret) Reveal() (string, error) {
	var out string
	err := s.Use(func(v []byte) error {
		out = string(v)
		return nil
	})
	return out, err
}

// String redacts the value.
func (s *Secret) String() string {
	return "[redacted]"
}
