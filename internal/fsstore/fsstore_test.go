package fsstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadBytesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.bin")
	if err := WriteAtomic(path, []byte("alpha"), FileOptions{}); err != nil {
		t.Fatalf("WriteAtomic() error = %v", err)
	}

	data, exists, err := ReadBytes(path)
	if err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}
	if !exists {
		t.Fatalf("ReadBytes() exists = false, want true")
	}
	if string(data) != "alpha" {
		t.Fatalf("ReadBytes() = %q, want %q", data, "alpha")
	}
}

func TestReadBytesMissingFile(t *testing.T) {
	_, exists, err := ReadBytes(filepath.Join(t.TempDir(), "absent.bin"))
	if err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}
	if exists {
		t.Fatalf("ReadBytes() exists = true for missing file")
	}
}

func TestWriteAtomicRotateKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.json")
	backup := filepath.Join(dir, "snap.json.backup")

	if err := WriteAtomicRotate(path, backup, []byte("one"), FileOptions{}); err != nil {
		t.Fatalf("WriteAtomicRotate(first) error = %v", err)
	}
	if _, err := os.Stat(backup); !os.IsNotExist(err) {
		t.Fatalf("backup exists after first write")
	}

	if err := WriteAtomicRotate(path, backup, []byte("two"), FileOptions{}); err != nil {
		t.Fatalf("WriteAtomicRotate(second) error = %v", err)
	}
	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read primary: %v", err)
	}
	if string(current) != "two" {
		t.Fatalf("primary = %q, want %q", current, "two")
	}
	prior, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(prior) != "one" {
		t.Fatalf("backup = %q, want %q", prior, "one")
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := WriteAtomic(path, []byte("data"), FileOptions{}); err != nil {
		t.Fatalf("WriteAtomic() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.bin" {
		t.Fatalf("unexpected dir contents: %v", entries)
	}
}
