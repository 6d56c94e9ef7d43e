package extract_test

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"imgforge/internal/extract"
)

func compress(t *testing.T, suffix string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch suffix {
	case ".gz":
		w = gzip.NewWriter(&buf)
	case ".xz":
		w, err = xz.NewWriter(&buf)
	case ".zst":
		w, err = zstd.NewWriter(&buf)
	default:
		t.Fatalf("unsupported suffix %s", suffix)
	}
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	return buf.Bytes()
}

func TestExpandSingleFileFormats(t *testing.T) {
	for _, suffix := range []string{".gz", ".xz", ".zst"} {
		t.Run(suffix, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "runtime.pak"+suffix)
			if err := os.WriteFile(src, compress(t, suffix, []byte("payload")), 0o644); err != nil {
				t.Fatalf("write source: %v", err)
			}
			got, err := extract.Expand(src)
			if err != nil {
				t.Fatalf("Expand: %v", err)
			}
			if got != filepath.Join(dir, "runtime.pak") {
				t.Fatalf("unexpected target %q", got)
			}
			data, err := os.ReadFile(got)
			if err != nil || string(data) != "payload" {
				t.Fatalf("unexpected content %q (%v)", data, err)
			}
		})
	}
}

func TestExpandIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "boot.pak.xz")
	if err := os.WriteFile(src, compress(t, ".xz", []byte("boot")), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	first, err := extract.Expand(src)
	if err != nil {
		t.Fatalf("first Expand: %v", err)
	}
	second, err := extract.Expand(src)
	if err != nil {
		t.Fatalf("second Expand: %v", err)
	}
	if first != second {
		t.Fatalf("expected same path, got %q and %q", first, second)
	}
}

func TestExpandTarballReplacesDirectory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bundle.tar.gz")
	payload := compress(t, ".gz", tarball(t, map[string]string{"a.pak": "A", "sub/b.pak": "B"}))
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	target := filepath.Join(dir, "bundle")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(target, "stale"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := extract.Expand(src)
		if err != nil {
			t.Fatalf("Expand #%d: %v", i, err)
		}
		if got != target {
			t.Fatalf("unexpected target %q", got)
		}
	}
	if data, err := os.ReadFile(filepath.Join(target, "sub", "b.pak")); err != nil || string(data) != "B" {
		t.Fatalf("unexpected nested entry %q (%v)", data, err)
	}
	if _, err := os.Stat(filepath.Join(target, "stale")); !os.IsNotExist(err) {
		t.Fatalf("expected stale file removed, got %v", err)
	}
}

func TestUntarRejectsEscapingEntries(t *testing.T) {
	data := tarball(t, map[string]string{"../evil": "x"})
	if err := extract.Untar(bytes.NewReader(data), t.TempDir()); err == nil {
		t.Fatal("expected error for escaping entry")
	}
}

func TestTargetAndIsCompressed(t *testing.T) {
	cases := map[string]string{
		"/x/a.pak.gz":  "/x/a.pak",
		"/x/a.tgz":     "/x/a",
		"/x/a.tar.zst": "/x/a",
		"/x/a.pak":     "/x/a.pak",
	}
	for in, want := range cases {
		if got := extract.Target(in); got != want {
			t.Fatalf("Target(%q) = %q, want %q", in, got, want)
		}
	}
	if extract.IsCompressed("/x/a.pak") || !extract.IsCompressed("/x/a.pak.XZ") {
		t.Fatal("unexpected IsCompressed result")
	}
}
