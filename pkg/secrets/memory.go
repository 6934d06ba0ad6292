package secrets

import (
	"context"
	"sync"
)

// MemoryProvider keeps vault records in process memory. State is lost on
// restart and never shared across processes, so this provider is for local
// development only and must be selected explicitly.
type MemoryProvider struct {
	mu      sync.RWMutex
	records map[string]*StoredSecret
}

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{records: make(map[string]*StoredSecret)}
}

// Put stores record under its reference.
func (p *MemoryProvider) Put(_ context.Context, record *StoredSecret) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.records[record.Reference] = record
	return nil
}

// Get returns the record for reference.
func (p *MemoryProvider) Get(_ context.Context, reference string) (*StoredSecret, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	record, ok := p.records[reference]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return record, nil
}

// Delete removes the record for reference.
func (p *MemoryProvider) Delete(_ context.Context, reference string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.records[reference]; !ok {
		return ErrSecretNotFound
	}
	delete(p.records, reference)
	return nil
}

// List returns all stored references.
func (p *MemoryProvider) List(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	references := make([]string, 0, len(p.records))
	for reference := range p.records {
		references = append(references, reference)
	}
	return references, nil
}

// Cleanup is a no-op for the memory provider.
func (*MemoryProvider) Cleanup() error {
	return nil
}
