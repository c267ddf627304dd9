package persistence

import (
	"path/filepath"
	"testing"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

func TestSaveAndLoadJSON_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "thing.json")

	type payload struct {
		Name string `json:"name"`
	}
	if err := SaveJSON(path, payload{Name: "safeclaw"}); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}

	var got payload
	if err := LoadJSON(path, &got); err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if got.Name != "safeclaw" {
		t.Errorf("LoadJSON = %+v, want Name=safeclaw", got)
	}
}

func TestLoadJSON_MissingFileIsNotAnError(t *testing.T) {
	var got map[string]string
	if err := LoadJSON(filepath.Join(t.TempDir(), "absent.json"), &got); err != nil {
		t.Fatalf("LoadJSON on a missing file should not error, got %v", err)
	}
	if got != nil {
		t.Errorf("expected got to stay zero-valued, got %v", got)
	}
}

func TestLoadProviderStore_FreshWhenAbsent(t *testing.T) {
	store, err := LoadProviderStore(t.TempDir())
	if err != nil {
		t.Fatalf("LoadProviderStore: %v", err)
	}
	if store.Providers == nil {
		t.Error("expected a non-nil Providers map on a fresh store")
	}
	if len(store.Providers) != 0 {
		t.Errorf("expected an empty store, got %v", store.Providers)
	}
}

func TestSaveAndLoadProviderStore_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := entity.NewProviderStore()
	store.SetCredential(entity.Credential{Provider: "anthropic", APIKey: "sk-test"}, true)
	store.ActiveModel = "claude-test"

	if err := SaveProviderStore(dir, store); err != nil {
		t.Fatalf("SaveProviderStore: %v", err)
	}

	reloaded, err := LoadProviderStore(dir)
	if err != nil {
		t.Fatalf("LoadProviderStore: %v", err)
	}
	if reloaded.ActiveProvider != "anthropic" || reloaded.ActiveModel != "claude-test" {
		t.Errorf("reloaded store = %+v, want active provider/model preserved", reloaded)
	}
	if cred, ok := reloaded.Providers["anthropic"]; !ok || cred.APIKey != "sk-test" {
		t.Errorf("reloaded store missing the anthropic credential, got %+v", reloaded.Providers)
	}
}

func TestLoadMemoryStore_FreshWhenAbsent(t *testing.T) {
	store, err := LoadMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("LoadMemoryStore: %v", err)
	}
	if store.Facts == nil || len(store.Facts) != 0 {
		t.Errorf("expected an empty fact map, got %v", store.Facts)
	}
}

func TestSaveAndLoadMemoryStore_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := &MemoryStore{Facts: map[string]MemoryFact{
		"favorite_color": {Key: "favorite_color", Value: "teal", UpdatedAt: "2026-01-01T00:00:00Z"},
	}}
	if err := SaveMemoryStore(dir, store); err != nil {
		t.Fatalf("SaveMemoryStore: %v", err)
	}

	reloaded, err := LoadMemoryStore(dir)
	if err != nil {
		t.Fatalf("LoadMemoryStore: %v", err)
	}
	fact, ok := reloaded.Facts["favorite_color"]
	if !ok || fact.Value != "teal" {
		t.Errorf("reloaded memory store = %+v, want favorite_color=teal", reloaded.Facts)
	}
}

func TestProviderStorePath_And_MemoryStorePath(t *testing.T) {
	if got := ProviderStorePath("/tmp/store"); got != filepath.Join("/tmp/store", "auth.json") {
		t.Errorf("ProviderStorePath = %q", got)
	}
	if got := MemoryStorePath("/tmp/store"); got != filepath.Join("/tmp/store", "memory.json") {
		t.Errorf("MemoryStorePath = %q", got)
	}
}
