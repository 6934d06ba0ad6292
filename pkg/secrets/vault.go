package secrets

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"time"

	"github.com/trustgate-dev/trustgate/pkg/auth"
	"github.com/trustgate-dev/trustgate/pkg/logger"
	"github.com/trustgate-dev/trustgate/pkg/secrets/aes"
)

// Vault encrypts connection credentials and hands out opaque references.
// It exclusively owns the key material: callers only ever see references,
// and plaintext leaves the vault only through Get, which enforces the
// permission check itself as the last line of defense against credential
// exfiltration.
type Vault struct {
	provider Provider

	// encryptionKey and referenceKey are derived from the master key with
	// distinct labels so the cipher can be swapped without changing the
	// reference scheme.
	encryptionKey []byte
	referenceKey  []byte

	// adminSubjects may read secrets in addition to service accounts.
	adminSubjects []string
}

// VaultOption configures a Vault.
type VaultOption func(*Vault)

// WithAdminSubjects grants the named subjects secret read permission.
func WithAdminSubjects(subjects ...string) VaultOption {
	return func(v *Vault) {
		v.adminSubjects = append(v.adminSubjects, subjects...)
	}
}

// NewVault creates a Vault over the given provider. masterKey is the
// vault-held key material; per-purpose keys are derived from it.
func NewVault(provider Provider, masterKey []byte, opts ...VaultOption) (*Vault, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("master key cannot be empty")
	}

	v := &Vault{
		provider:      provider,
		encryptionKey: deriveKey(masterKey, "encryption"),
		referenceKey:  deriveKey(masterKey, "reference"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Put encrypts value and stores it under the reference derived from
// (scope, key). Re-putting the same (scope, key) overwrites the value and
// returns the unchanged reference.
func (v *Vault) Put(ctx context.Context, scope Scope, key, value string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("secret key cannot be empty")
	}

	reference := deriveReference(v.referenceKey, scope, key)

	ciphertext, err := aes.Encrypt([]byte(value), v.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	record := &StoredSecret{
		Reference:  reference,
		Ciphertext: ciphertext,
		Scope:      scope,
		Key:        key,
	}
	if err := v.provider.Put(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store secret: %w", err)
	}

	return reference, nil
}

// getOptions holds per-call options for Get.
type getOptions struct {
	bypassPermissions bool
	bypassReason      string
}

// GetOption configures a single Get call.
type GetOption func(*getOptions)

// WithBypassPermissions skips the permission check. This is a deliberate,
// narrow exception for in-process run execution; every bypass is logged
// with the given reason and the requesting context.
func WithBypassPermissions(reason string) GetOption {
	return func(o *getOptions) {
		o.bypassPermissions = true
		o.bypassReason = reason
	}
}

// Get resolves a reference to its plaintext value. The caller identity must
// hold an elevated role unless WithBypassPermissions is given. The
// permission check runs before the lookup so a denied caller learns nothing
// about whether the reference exists.
func (v *Vault) Get(ctx context.Context, identity *auth.Identity, reference string, opts ...GetOption) (string, error) {
	options := getOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	if options.bypassPermissions {
		subject := "<none>"
		if identity != nil {
			subject = identity.Subject
		}
		logger.Warnw("secret read with permission check bypassed",
			"reference", reference,
			"subject", subject,
			"reason", options.bypassReason)
	} else if !v.permitted(identity) {
		return "", ErrPermissionDenied
	}

	record, err := v.provider.Get(ctx, reference)
	if err != nil {
		return "", err
	}

	if record.ExpiresAt != nil && time.Now().After(*record.ExpiresAt) {
		return "", ErrSecretNotFound
	}

	plaintext, err := aes.Decrypt(record.Ciphertext, v.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

// Delete removes the secret stored under (scope, key).
func (v *Vault) Delete(ctx context.Context, scope Scope, key string) error {
	return v.provider.Delete(ctx, deriveReference(v.referenceKey, scope, key))
}

// permitted reports whether identity holds an elevated role.
func (v *Vault) permitted(identity *auth.Identity) bool {
	if identity == nil {
		return false
	}
	if identity.ServiceAccount {
		return true
	}
	return slices.Contains(v.adminSubjects, identity.Subject)
}

// deriveKey derives a purpose-bound subkey from the master key.
func deriveKey(masterKey []byte, label string) []byte {
	h := sha256.New()
	h.Write(masterKey)
	h.Write([]byte{0})
	h.Write([]byte(label))
	return h.Sum(nil)
}
