package extract

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

type format struct {
	suffix string
	tar    bool
	open   func(io.Reader) (io.ReadCloser, error)
}

// Longer suffixes come first so .tar.gz wins over .gz.
var formats = []format{
	{suffix: ".tar.gz", tar: true, open: openGzip},
	{suffix: ".tgz", tar: true, open: openGzip},
	{suffix: ".tar.xz", tar: true, open: openXZ},
	{suffix: ".txz", tar: true, open: openXZ},
	{suffix: ".tar.zst", tar: true, open: openZstd},
	{suffix: ".tzst", tar: true, open: openZstd},
	{suffix: ".gz", open: openGzip},
	{suffix: ".xz", open: openXZ},
	{suffix: ".zst", open: openZstd},
}

var locks sync.Map

func detect(path string) (format, bool) {
	lower := strings.ToLower(path)
	for _, f := range formats {
		if strings.HasSuffix(lower, f.suffix) && len(path) > len(f.suffix) {
			return f, true
		}
	}
	return format{}, false
}

// IsCompressed reports whether path carries a recognized compression suffix.
func IsCompressed(path string) bool {
	_, ok := detect(path)
	return ok
}

// Target returns the path an archive expands to: path with its compression
// suffix stripped. Uncompressed paths are returned unchanged.
func Target(path string) string {
	f, ok := detect(path)
	if !ok {
		return path
	}
	return path[:len(path)-len(f.suffix)]
}

// Expand decompresses path beside itself and returns the expanded location.
// Single-file formats produce a file; tarballs produce a directory. An
// existing expansion is replaced, so calling Expand repeatedly is safe.
func Expand(path string) (string, error) {
	f, ok := detect(path)
	if !ok {
		return path, nil
	}
	target := path[:len(path)-len(f.suffix)]

	mu, _ := locks.LoadOrStore(target, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	reader, err := f.open(src)
	if err != nil {
		return "", fmt.Errorf("decompress %s: %w", path, err)
	}
	defer reader.Close()

	if f.tar {
		err = expandTarball(reader, target)
	} else {
		err = expandFile(reader, target)
	}
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return target, nil
}

func expandFile(r io.Reader, target string) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

func expandTarball(r io.Reader, target string) error {
	staging, err := os.MkdirTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := Untar(r, staging); err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	return os.Rename(staging, target)
}

// Untar writes the regular files, directories and symlinks of a tar stream
// under dest. Entries that would land outside dest are rejected.
func Untar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		name := filepath.FromSlash(strings.TrimPrefix(hdr.Name, "./"))
		if name == "" || name == "." {
			continue
		}
		if !filepath.IsLocal(name) {
			return fmt.Errorf("tar entry %q escapes destination", hdr.Name)
		}
		target := filepath.Join(dest, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, os.FileMode(hdr.Mode).Perm()|0o600); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent dir: %w", err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return fmt.Errorf("create symlink %s -> %s: %w", target, hdr.Linkname, err)
			}
		}
	}
}

func writeEntry(r io.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write file %s: %w", target, err)
	}
	return out.Close()
}

// NewReader wraps r with the decompressor matching name's suffix. Names
// without a recognized suffix are read as-is.
func NewReader(name string, r io.Reader) (io.ReadCloser, bool, error) {
	f, ok := detect(name)
	if !ok {
		return io.NopCloser(r), false, nil
	}
	rc, err := f.open(r)
	return rc, f.tar, err
}

func openGzip(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func openXZ(r io.Reader) (io.ReadCloser, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(xr), nil
}

func openZstd(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
