package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"imgforge/internal/pak"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteArchive saves a section archive with one deflated entry per name,
// each holding "content of <name>".
func WriteArchive(t testing.TB, path string, entries ...string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	archive, err := pak.Create(path)
	if err != nil {
		t.Fatalf("create archive %s: %v", path, err)
	}
	for _, name := range entries {
		if err := archive.Add(name, pak.Deflate, []byte("content of "+name)); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	if err := archive.Save(); err != nil {
		t.Fatalf("save archive %s: %v", path, err)
	}
	return path
}

// ReadArchive loads an archive or fails the test.
func ReadArchive(t testing.TB, path string) *pak.Archive {
	t.Helper()

	archive, err := pak.Read(path)
	if err != nil {
		t.Fatalf("read archive %s: %v", path, err)
	}
	return archive
}
