package cursorstore

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsInitial(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "cursor.yaml"))
	got, err := store.Load(42)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got != 42 {
		t.Errorf("Load() = %d, want 42 (initial)", got)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "nested", "cursor.yaml"))
	if err := store.Save(12345); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err := store.Load(0)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got != 12345 {
		t.Errorf("Load() = %d, want 12345", got)
	}
}

func TestSaveOverwritesPreviousValue(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "cursor.yaml"))
	if err := store.Save(100); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := store.Save(200); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err := store.Load(0)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got != 200 {
		t.Errorf("Load() = %d, want 200 (monotonic overwrite)", got)
	}
}
