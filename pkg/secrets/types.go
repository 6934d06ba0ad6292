// Package secrets contains the secret vault: encrypted storage of connection
// credentials addressed by opaque references.
package secrets

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	// ErrSecretNotFound is returned when a reference resolves to nothing.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrPermissionDenied is returned when the caller may not read secrets.
	// The message carries no hint of whether the reference exists.
	ErrPermissionDenied = errors.New("permission denied")
)

// Scope binds a secret to a tenant.
type Scope struct {
	OrganizationID string `json:"organization_id"`
	EnvironmentID  string `json:"environment_id"`
}

// StoredSecret is one vault record. The value is held only as ciphertext;
// plaintext exists in memory only while a read is being served.
type StoredSecret struct {
	// Reference is the opaque handle derived from (scope, key). It carries
	// no secret material and is safe to log.
	Reference string `json:"reference"`

	// Ciphertext is the AES-GCM encrypted value, base64 in serialized form.
	Ciphertext []byte `json:"ciphertext"`

	Scope Scope  `json:"scope"`
	Key   string `json:"key"`

	// ExpiresAt optionally bounds the secret lifetime.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Provider is the storage backend for vault records. Providers store
// ciphertext blindly; encryption and authorization are the vault's job.
type Provider interface {
	// Put stores record under its reference, overwriting any previous record.
	Put(ctx context.Context, record *StoredSecret) error

	// Get returns the record for reference, or ErrSecretNotFound.
	Get(ctx context.Context, reference string) (*StoredSecret, error)

	// Delete removes the record for reference, or ErrSecretNotFound.
	Delete(ctx context.Context, reference string) error

	// List returns all stored references.
	List(ctx context.Context) ([]string, error)

	// Cleanup releases resources held by the provider.
	Cleanup() error
}
