// Package auth manages the single bearer token that guards the HTTP
// surface. mlxd fronts one local model, not a roster of upstream
// providers, so one credential is all there is to store.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	serviceName = "mlxd"
	accountName = "server-token"

	// envToken is checked before the keychain, so container/CI hosts
	// without a keychain can still configure a credential.
	envToken = "MLXD_AUTH_TOKEN"
)

// Store reads and writes the server's bearer token via the OS keychain,
// with an environment-variable escape hatch for headless/CI hosts where
// no keychain is available.
type Store struct{}

// New returns a Store.
func New() *Store { return &Store{} }

// Set stores token in the OS keychain, replacing any previous value.
func (s *Store) Set(token string) error {
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}
	return keyring.Set(serviceName, accountName, token)
}

// Get returns the current bearer token. It checks MLXD_AUTH_TOKEN
// first, then the OS keychain, and reports an error if neither is set.
func (s *Store) Get() (string, error) {
	if val := os.Getenv(envToken); val != "" {
		return val, nil
	}
	token, err := keyring.Get(serviceName, accountName)
	if err == nil && token != "" {
		return token, nil
	}
	return "", fmt.Errorf("no auth token set: not in keychain and %s not set", envToken)
}

// Delete removes the stored token from the OS keychain. It does not
// affect MLXD_AUTH_TOKEN, which is the caller's to unset.
func (s *Store) Delete() error {
	return keyring.Delete(serviceName, accountName)
}

// Generate returns a new random, URL-safe bearer token suitable for
// `mlxd auth generate`.
func Generate() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Resolve returns the token to enforce, preferring the keychain/env
// Store over a statically configured one (configToken, usually
// cfg.Auth.Token from internal/config) so an operator can rotate the
// token without editing the config file. An empty configToken with no
// stored token is not an error here; callers decide whether that means
// "auth effectively disabled" or "misconfigured".
func Resolve(configToken string) string {
	if tok, err := New().Get(); err == nil && tok != "" {
		return tok
	}
	return configToken
}
