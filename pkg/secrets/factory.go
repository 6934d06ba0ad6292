package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// ProviderType identifies a secret storage backend.
type ProviderType string

const (
	// EncryptedType stores secrets in an encrypted file (default).
	EncryptedType ProviderType = "encrypted"

	// MemoryType keeps secrets in process memory. Development only: state
	// is not durable and cannot be shared across processes.
	MemoryType ProviderType = "memory"
)

const (
	// PasswordEnvVar overrides the OS keyring as the source of the vault
	// password, for headless deployments.
	PasswordEnvVar = "TRUSTGATE_SECRETS_PASSWORD"

	keyringService = "trustgate"
	keyringUser    = "secrets-password"
)

// ErrUnknownProviderType is returned for unrecognized provider types.
var ErrUnknownProviderType = errors.New("unknown secrets provider type")

// CreateSecretProvider creates a provider of the given type. filePath is
// only used by the encrypted provider.
func CreateSecretProvider(providerType ProviderType, filePath string, key []byte) (Provider, error) {
	switch providerType {
	case EncryptedType:
		return NewEncryptedProvider(filePath, key)
	case MemoryType:
		return NewMemoryProvider(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProviderType, providerType)
	}
}

// MasterKey resolves the vault master key. The password comes from the
// environment when set, otherwise from the OS keyring; a fresh password is
// generated and stored in the keyring on first use.
func MasterKey() ([]byte, error) {
	if password := os.Getenv(PasswordEnvVar); password != "" {
		return passwordToKey(password), nil
	}

	password, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		return passwordToKey(password), nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("failed to read vault password from keyring: %w", err)
	}

	password, err = generatePassword()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(keyringService, keyringUser, password); err != nil {
		return nil, fmt.Errorf("failed to store vault password in keyring: %w", err)
	}
	return passwordToKey(password), nil
}

func passwordToKey(password string) []byte {
	key := sha256.Sum256([]byte(password))
	return key[:]
}

func generatePassword() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate vault password: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}
