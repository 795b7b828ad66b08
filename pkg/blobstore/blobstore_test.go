package blobstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	ref, err := store.Write([]byte(`{"hello":"world"}`), "application/json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Hash == "" {
		t.Fatalf("expected non-empty hash")
	}

	decoded, err := store.ReadDecoded(ref.Hash, "application/json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := decoded.(map[string]interface{})
	if !ok || m["hello"] != "world" {
		t.Fatalf("got %#v, want map with hello=world", decoded)
	}
}

func TestStore_WriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	data := []byte("same content")
	ref1, err := store.Write(data, "text/plain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ref2, err := store.Write(data, "text/plain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref1.Hash != ref2.Hash {
		t.Errorf("expected identical hash for identical content")
	}

	path := filepath.Join(dir, ref1.Hash[:2], ref1.Hash+".txt")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected blob at %s: %v", path, err)
	}
}

func TestStore_Exists(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	ref, err := store.Write([]byte("abc"), "text/plain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := store.Exists(ref.Hash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Errorf("expected Exists to report true for a written blob")
	}

	ok, err = store.Exists("0000000000000000000000000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("expected Exists to report false for an unwritten hash")
	}
}

func TestStore_ReadMissing(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	_, err := store.Read("deadbeef", "application/octet-stream")
	if err == nil {
		t.Fatalf("expected error for missing blob")
	}
}

func TestStore_ReadDecoded_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	ref, err := store.Write([]byte("not json"), "application/json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = store.ReadDecoded(ref.Hash, "application/json")
	if err == nil {
		t.Fatalf("expected error for invalid JSON payload")
	}
}
