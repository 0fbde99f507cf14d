package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalPut(t *testing.T) {
	store, err := NewLocal(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "nested/file.txt", []byte("hello"), "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	path := filepath.Join(store.Location(), "nested", "file.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read stored file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Expected 'hello', got %q", string(data))
	}

	// Put replaces existing content
	if err := store.Put(ctx, "nested/file.txt", []byte("x"), ""); err != nil {
		t.Fatalf("Second Put failed: %v", err)
	}
	full, _ := os.ReadFile(path)
	if string(full) != "x" {
		t.Errorf("Expected truncated content 'x', got %q", string(full))
	}
}

func TestLocalExists(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	ctx := context.Background()

	exists, err := store.Exists(ctx, "missing.wav")
	if err != nil || exists {
		t.Errorf("Expected missing file, got exists=%v err=%v", exists, err)
	}

	store.Put(ctx, "present.wav", []byte{1}, "")
	exists, err = store.Exists(ctx, "present.wav")
	if err != nil || !exists {
		t.Errorf("Expected present file, got exists=%v err=%v", exists, err)
	}
}

func TestLocalPutFailure(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewLocal(dir)

	// A directory in the way of the destination makes the create fail
	if err := os.Mkdir(filepath.Join(dir, "audio_input_0.wav"), 0o755); err != nil {
		t.Fatalf("Failed to create blocking directory: %v", err)
	}

	if err := store.Put(context.Background(), "audio_input_0.wav", []byte{1}, ""); err == nil {
		t.Error("Expected Put to fail when the destination is a directory")
	}
}
