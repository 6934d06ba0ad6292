package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/gofrs/flock"

	"github.com/trustgate-dev/trustgate/pkg/secrets/aes"
)

// EncryptedProvider stores vault records in an encrypted file.
// AES-256-GCM is used for encryption of the file as a whole, on top of the
// per-value encryption the vault already applies. File writes are serialized
// across processes with a flock.
//
// The provider is single-writer: records load once at construction and every
// write persists this process's in-memory map, so two processes writing the
// same file lose each other's changes. Deployments with multiple gateway
// workers must point each worker at its own file or use a shared provider.
type EncryptedProvider struct {
	filePath string
	// Key used to re-encrypt the secrets file when changes are made.
	key      []byte
	fileLock *flock.Flock

	mu      sync.RWMutex
	records map[string]*StoredSecret
}

// fileStructure is the structure of the secrets file.
type fileStructure struct {
	Records map[string]*StoredSecret `json:"records"`
}

// NewEncryptedProvider creates an EncryptedProvider, loading any existing
// records from the file.
func NewEncryptedProvider(filePath string, key []byte) (*EncryptedProvider, error) {
	if len(key) == 0 {
		return nil, errors.New("key cannot be empty")
	}

	filePath = path.Clean(filePath)
	// #nosec G304: the secrets file path is operator configuration.
	secretsFile, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open secrets file: %w", err)
	}
	defer secretsFile.Close()

	stat, err := secretsFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}

	provider := &EncryptedProvider{
		filePath: filePath,
		key:      key,
		fileLock: flock.New(filePath + ".lock"),
		records:  make(map[string]*StoredSecret),
	}

	if stat.Size() > 0 {
		encryptedContents, err := io.ReadAll(secretsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read secrets file: %w", err)
		}
		decryptedContents, err := aes.Decrypt(encryptedContents, key)
		if err != nil {
			return nil, fmt.Errorf("unable to decrypt secrets file: %w", err)
		}

		var contents fileStructure
		if err := json.Unmarshal(decryptedContents, &contents); err != nil {
			return nil, fmt.Errorf("failed to decode secrets file: %w", err)
		}
		if contents.Records != nil {
			provider.records = contents.Records
		}
	}

	return provider, nil
}

// Put stores record under its reference, overwriting any previous record.
func (p *EncryptedProvider) Put(_ context.Context, record *StoredSecret) error {
	if record.Reference == "" {
		return errors.New("record reference cannot be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.records[record.Reference] = record
	return p.updateFile()
}

// Get returns the record for reference.
func (p *EncryptedProvider) Get(_ context.Context, reference string) (*StoredSecret, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	record, ok := p.records[reference]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return record, nil
}

// Delete removes the record for reference.
func (p *EncryptedProvider) Delete(_ context.Context, reference string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.records[reference]; !ok {
		return ErrSecretNotFound
	}
	delete(p.records, reference)
	return p.updateFile()
}

// List returns all stored references.
func (p *EncryptedProvider) List(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	references := make([]string, 0, len(p.records))
	for reference := range p.records {
		references = append(references, reference)
	}
	return references, nil
}

// Cleanup releases the file lock resources.
func (p *EncryptedProvider) Cleanup() error {
	return p.fileLock.Close()
}

// updateFile must be called with p.mu held.
func (p *EncryptedProvider) updateFile() error {
	contents, err := json.Marshal(fileStructure{Records: p.records})
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	encryptedContents, err := aes.Encrypt(contents, p.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	if err := p.fileLock.Lock(); err != nil {
		return fmt.Errorf("failed to lock secrets file: %w", err)
	}
	defer p.fileLock.Unlock()

	if err := os.WriteFile(p.filePath, encryptedContents, 0600); err != nil {
		return fmt.Errorf("failed to write secrets to file: %w", err)
	}
	return nil
}
