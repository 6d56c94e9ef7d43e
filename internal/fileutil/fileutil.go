package fileutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Digest is the SHA256 and size of a file's content.
type Digest struct {
	SHA256 string
	Size   int64
}

// CopyFile streams src to dst with default permissions (0o644), creating the
// destination directory when needed.
func CopyFile(src, dst string) error {
	_, err := copyHashed(src, dst)
	return err
}

// CopyFileVerified streams src to dst with SHA256 + size integrity
// verification and returns the digest of the copy. Removes dst on mismatch.
func CopyFileVerified(src, dst string) (Digest, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return Digest{}, fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return Digest{}, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Digest{}, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return Digest{}, err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return Digest{}, err
	}
	if err := out.Close(); err != nil {
		return Digest{}, err
	}

	if written != srcInfo.Size() {
		_ = os.Remove(dst)
		return Digest{}, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return Digest{}, fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	return Digest{SHA256: hex.EncodeToString(dstHasher.Sum(nil)), Size: written}, nil
}

// Concat writes the content of each part, in order, to dst. A part may be
// listed more than once.
func Concat(dst string, parts ...string) (Digest, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Digest{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return Digest{}, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hasher := sha256.New()
	w := io.MultiWriter(tmp, hasher)
	var total int64
	for _, part := range parts {
		n, err := appendFile(w, part)
		if err != nil {
			tmp.Close()
			return Digest{}, err
		}
		total += n
	}
	if err := tmp.Close(); err != nil {
		return Digest{}, err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return Digest{}, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return Digest{}, err
	}
	return Digest{SHA256: hex.EncodeToString(hasher.Sum(nil)), Size: total}, nil
}

// FileDigest hashes the file at path.
func FileDigest(path string) (Digest, error) {
	hasher := sha256.New()
	n, err := appendFile(hasher, path)
	if err != nil {
		return Digest{}, err
	}
	return Digest{SHA256: hex.EncodeToString(hasher.Sum(nil)), Size: n}, nil
}

func appendFile(w io.Writer, path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	n, err := io.Copy(w, in)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", path, err)
	}
	return n, nil
}

func copyHashed(src, dst string) (Digest, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Digest{}, err
	}
	in, err := os.Open(src)
	if err != nil {
		return Digest{}, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Digest{}, err
	}
	defer out.Close()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, hasher), in)
	if err != nil {
		return Digest{}, err
	}
	if err := out.Close(); err != nil {
		return Digest{}, err
	}
	return Digest{SHA256: hex.EncodeToString(hasher.Sum(nil)), Size: n}, nil
}
