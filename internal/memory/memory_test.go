package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	err := s.Store(ctx, &Entry{
		Key:       "stale",
		Value:     json.RawMessage(`"v"`),
		CreatedAt: time.Now().Add(-time.Hour),
		TTL:       time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Retrieve(ctx, "stale")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expired entry must not be returned, got %+v", got)
	}

	// Lazy removal: the key is gone from listings too.
	keys, err := s.ListKeys(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("expired entry still listed: %v", keys)
	}
}

func TestMemoryStoreTrimOldest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	base := time.Now()
	for i, key := range []string{"a", "b", "c"} {
		err := s.Store(ctx, &Entry{
			Key:       key,
			Value:     json.RawMessage(`1`),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	keys, _ := s.ListKeys(ctx, "")
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "c" {
		t.Fatalf("oldest entry must be trimmed, got %v", keys)
	}
}

func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	base := time.Now()
	entries := []*Entry{
		{Key: "deploy/web", Value: json.RawMessage(`1`), CreatedAt: base, Tags: []string{"deploy", "web"}},
		{Key: "deploy/api", Value: json.RawMessage(`2`), CreatedAt: base.Add(time.Second), Tags: []string{"deploy"}},
		{Key: "incident/1", Value: json.RawMessage(`3`), CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := s.Store(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Search(ctx, Query{Prefix: "deploy/"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Key != "deploy/api" {
		t.Fatalf("prefix search newest-first, got %d entries, first %q", len(got), got[0].Key)
	}

	got, err = s.Search(ctx, Query{Tags: []string{"deploy", "web"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key != "deploy/web" {
		t.Fatalf("tag search must require all tags, got %v", got)
	}

	got, err = s.Search(ctx, Query{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key != "incident/1" {
		t.Fatalf("limit keeps newest, got %v", got)
	}
}

func TestFileStorePersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.json")

	s, err := NewFileStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Store(ctx, &Entry{Key: "k", Value: json.RawMessage(`"v"`)})
	if err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same path sees the entry.
	s2, err := NewFileStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s2.Retrieve(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || string(got.Value) != `"v"` {
		t.Fatalf("reloaded store missing entry: %+v", got)
	}
}

func TestFileStorePersistsExpiredRemoval(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.json")

	s, err := NewFileStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Store(ctx, &Entry{
		Key:       "stale",
		Value:     json.RawMessage(`1`),
		CreatedAt: time.Now().Add(-time.Hour),
		TTL:       time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}

	if got, _ := s.Retrieve(ctx, "stale"); got != nil {
		t.Fatal("expired entry returned")
	}

	// The removal reached disk.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["stale"]; ok {
		t.Fatal("expired entry still in the persisted document")
	}
}

func TestFileStoreClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.json")

	s, err := NewFileStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"a", "b"} {
		if err := s.Store(ctx, &Entry{Key: key, Value: json.RawMessage(`1`)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}

	s2, err := NewFileStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	keys, _ := s2.ListKeys(ctx, "")
	if len(keys) != 0 {
		t.Fatalf("clear must persist, got %v", keys)
	}
}

func TestNewBackendSelection(t *testing.T) {
	if _, err := New("memory", "", 10); err != nil {
		t.Fatal(err)
	}
	if _, err := New("file", "", 10); err == nil {
		t.Fatal("file backend without path must fail")
	}
	if _, err := New("redis", "", 10); err == nil {
		t.Fatal("unknown backend must fail")
	}
}
