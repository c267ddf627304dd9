package tool

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/safeclaw/safeclaw/internal/infrastructure/persistence"
)

// Memory implements memory_read/write/list/delete (§6), persisting to
// memory.json via persistence.SaveMemoryStore on every mutation — the
// teacher's save_memory tool takes the same load-then-save-on-mutation
// approach, simplified here to a flat key/value store per SPEC_FULL.md.
type Memory struct {
	mu         sync.Mutex
	storageDir string
	store      *persistence.MemoryStore
}

// NewMemory loads memory.json (or starts empty) from storageDir.
func NewMemory(storageDir string) (*Memory, error) {
	store, err := persistence.LoadMemoryStore(storageDir)
	if err != nil {
		return nil, fmt.Errorf("load memory store: %w", err)
	}
	return &Memory{storageDir: storageDir, store: store}, nil
}

// Read returns the value for a key, or a not-found message.
func (m *Memory) Read(input map[string]interface{}) (string, error) {
	key, err := stringArg(input, "key")
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fact, ok := m.store.Facts[key]
	if !ok {
		return fmt.Sprintf("no memory fact stored under key %q", key), nil
	}
	return fact.Value, nil
}

// Write upserts a key/value fact and persists immediately.
func (m *Memory) Write(input map[string]interface{}) (string, error) {
	key, err := stringArg(input, "key")
	if err != nil {
		return "", err
	}
	value, _ := input["value"].(string)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.Facts[key] = persistence.MemoryFact{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := persistence.SaveMemoryStore(m.storageDir, m.store); err != nil {
		return "", fmt.Errorf("persist memory store: %w", err)
	}
	return fmt.Sprintf("remembered %q", key), nil
}

// List returns every stored key, one per line, sorted.
func (m *Memory) List(map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.store.Facts))
	for k := range m.store.Facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return "(no stored facts)", nil
	}
	return strings.Join(keys, "\n"), nil
}

// Delete removes a key and persists immediately.
func (m *Memory) Delete(input map[string]interface{}) (string, error) {
	key, err := stringArg(input, "key")
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store.Facts[key]; !ok {
		return fmt.Sprintf("no memory fact stored under key %q", key), nil
	}
	delete(m.store.Facts, key)
	if err := persistence.SaveMemoryStore(m.storageDir, m.store); err != nil {
		return "", fmt.Errorf("persist memory store: %w", err)
	}
	return fmt.Sprintf("forgot %q", key), nil
}
