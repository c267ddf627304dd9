// Package persistence implements SafeClaw's file-backed stores under
// STORAGE_DIR (§6 Persisted state layout): auth.json and memory.json.
// Grounded on the teacher's persistence layer in spirit (load-at-startup,
// save-on-mutation) but replacing its gorm/sqlite repository pattern with
// plain atomic JSON files — a single-owner gateway has no concurrent
// writers to arbitrate, so a relational store buys nothing here.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// SaveJSON atomically writes v as indented JSON to path: write to a
// sibling temp file, then rename, so a crash mid-write never corrupts
// the existing file.
func SaveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file for %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file for %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadJSON reads path into v. A missing file is not an error — callers
// get a zero-valued v and proceed with fresh state.
func LoadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ProviderStorePath returns the auth.json path under storageDir.
func ProviderStorePath(storageDir string) string {
	return filepath.Join(storageDir, "auth.json")
}

// MemoryStorePath returns the memory.json path under storageDir.
func MemoryStorePath(storageDir string) string {
	return filepath.Join(storageDir, "memory.json")
}

// LoadProviderStore loads auth.json, returning a fresh ProviderStore if
// absent.
func LoadProviderStore(storageDir string) (*entity.ProviderStore, error) {
	store := entity.NewProviderStore()
	if err := LoadJSON(ProviderStorePath(storageDir), store); err != nil {
		return nil, err
	}
	if store.Providers == nil {
		store.Providers = make(map[string]entity.Credential)
	}
	return store, nil
}

// SaveProviderStore persists the ProviderStore to auth.json.
func SaveProviderStore(storageDir string, store *entity.ProviderStore) error {
	return SaveJSON(ProviderStorePath(storageDir), store)
}

// MemoryFact is one key/value entry in memory.json, used by the
// memory_read/write/list/delete builtin tools.
type MemoryFact struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

// MemoryStore is the on-disk shape of memory.json: a flat key/value map,
// simpler than the teacher's category/confidence-scored MemoryFact model
// since the spec's memory tool has no retrieval-ranking requirement.
type MemoryStore struct {
	Facts map[string]MemoryFact `json:"facts"`
}

// LoadMemoryStore loads memory.json, returning an empty store if absent.
func LoadMemoryStore(storageDir string) (*MemoryStore, error) {
	store := &MemoryStore{Facts: make(map[string]MemoryFact)}
	if err := LoadJSON(MemoryStorePath(storageDir), store); err != nil {
		return nil, err
	}
	if store.Facts == nil {
		store.Facts = make(map[string]MemoryFact)
	}
	return store, nil
}

// SaveMemoryStore persists the MemoryStore to memory.json.
func SaveMemoryStore(storageDir string, store *MemoryStore) error {
	return SaveJSON(MemoryStorePath(storageDir), store)
}
