package documents

import (
	"context"
	"sync"

	"github.com/warp/invoice-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	docs     map[string]Rendered
	archived map[string]bool

	// FailArchive makes Archive fail, for exercising the side-failure path.
	FailArchive error
}

func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string]Rendered),
		archived: make(map[string]bool),
	}
}

func (m *Memory) Save(_ context.Context, accountID billing.AccountID, doc Rendered) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc := "memory://" + objectKey(accountID, doc.Name)
	m.docs[loc] = doc
	return loc, nil
}

func (m *Memory) Delete(_ context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[location]; !ok {
		return ErrNotFound
	}
	delete(m.docs, location)
	return nil
}

func (m *Memory) Archive(_ context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailArchive != nil {
		return m.FailArchive
	}
	if _, ok := m.docs[location]; !ok {
		return ErrNotFound
	}
	m.archived[location] = true
	return nil
}

// Get returns a stored document.
func (m *Memory) Get(location string) (Rendered, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[location]
	return doc, ok
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Archived reports whether Archive succeeded for location.
func (m *Memory) Archived(location string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.archived[location]
}
