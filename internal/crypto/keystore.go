package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"github.com/zalando/go-keyring"
)

const (
	keystoreService = "nl2sqlgen-client"
	keystoreUser    = "encryption-key"
)

// GenerateOrLoadKey returns the 32-byte AES-256 key from the system
// keychain, generating and storing a fresh one on first use.
func GenerateOrLoadKey() ([]byte, error) {
	keyString, err := keyring.Get(keystoreService, keystoreUser)
	if err == nil && keyString != "" {
		return []byte(keyString), nil
	}

	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		fmt.Printf("Keystore warning: %v\n", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	if err := keyring.Set(keystoreService, keystoreUser, string(key)); err != nil {
		// Linux without a keyring daemon: tolerate, key is regenerated on
		// the next launch and scheduled-job credentials must be re-entered.
		fmt.Printf("WARNING: Failed to store key in keychain: %v\n", err)

		if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
			return nil, fmt.Errorf("keychain storage required on %s: %w", runtime.GOOS, err)
		}
	}

	return key, nil
}

// DeleteKey removes the encryption key from the keychain
func DeleteKey() error {
	return keyring.Delete(keystoreService, keystoreUser)
}

// IsKeyStored checks if an encryption key exists in the keychain
func IsKeyStored() bool {
	_, err := keyring.Get(keystoreService, keystoreUser)
	return err == nil
}
