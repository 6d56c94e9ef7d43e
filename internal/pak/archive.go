package pak

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"golang.org/x/crypto/sha3"
)

// Method is the compression method of an archive entry.
type Method uint16

const (
	Store   Method = Method(zip.Store)
	Deflate Method = Method(zip.Deflate)
)

// ParseMethod maps a manifest method name to a Method.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "store":
		return Store, nil
	case "deflate":
		return Deflate, nil
	default:
		return 0, fmt.Errorf("unknown compression method %q", name)
	}
}

func (m Method) String() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("method(%d)", uint16(m))
	}
}

var (
	// ErrEntryNotFound is returned when a named entry is absent.
	ErrEntryNotFound = errors.New("archive entry not found")
	// ErrDuplicateEntry is returned when an entry name is already present.
	ErrDuplicateEntry = errors.New("duplicate archive entry")
)

// Entry is one named member of an archive.
type Entry struct {
	Name   string
	Method Method
	Data   []byte
}

// Archive is an ordered set of uniquely named entries bound to a file path.
// Changes stay in memory until Save.
type Archive struct {
	path    string
	entries []Entry
	index   map[string]int
}

func newArchive(path string) *Archive {
	return &Archive{path: path, index: map[string]int{}}
}

// Path returns the file the archive saves to.
func (a *Archive) Path() string { return a.path }

// Len returns the number of entries.
func (a *Archive) Len() int { return len(a.entries) }

// Add appends a new entry.
func (a *Archive) Add(name string, method Method, data []byte) error {
	return a.Append(Entry{Name: name, Method: method, Data: data})
}

// Append adds entries in order, failing on the first duplicate name.
func (a *Archive) Append(entries ...Entry) error {
	for _, entry := range entries {
		name := cleanName(entry.Name)
		if name == "" {
			return fmt.Errorf("%s: empty entry name", a.path)
		}
		if _, ok := a.index[name]; ok {
			return fmt.Errorf("%s: %w: %s", a.path, ErrDuplicateEntry, name)
		}
		data := make([]byte, len(entry.Data))
		copy(data, entry.Data)
		a.index[name] = len(a.entries)
		a.entries = append(a.entries, Entry{Name: name, Method: entry.Method, Data: data})
	}
	return nil
}

// Get returns the entry with the given name.
func (a *Archive) Get(name string) (Entry, bool) {
	i, ok := a.index[cleanName(name)]
	if !ok {
		return Entry{}, false
	}
	return a.entries[i], true
}

// Entries returns the entries in archive order.
func (a *Archive) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Names returns entry names in archive order.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.entries))
	for _, entry := range a.entries {
		names = append(names, entry.Name)
	}
	return names
}

// Find returns the names of entries matching any of the shell patterns, in
// archive order. An empty pattern list matches nothing.
func (a *Archive) Find(patterns ...string) ([]string, error) {
	var matches []string
	if len(patterns) == 0 {
		return nil, nil
	}
	for _, entry := range a.entries {
		for _, pattern := range patterns {
			ok, err := path.Match(pattern, entry.Name)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", pattern, err)
			}
			if ok {
				matches = append(matches, entry.Name)
				break
			}
		}
	}
	return matches, nil
}

// Remove deletes the named entries.
func (a *Archive) Remove(names ...string) error {
	drop := map[string]bool{}
	for _, name := range names {
		name = cleanName(name)
		if _, ok := a.index[name]; !ok {
			return fmt.Errorf("%s: %w: %s", a.path, ErrEntryNotFound, name)
		}
		drop[name] = true
	}
	kept := a.entries[:0]
	for _, entry := range a.entries {
		if !drop[entry.Name] {
			kept = append(kept, entry)
		}
	}
	a.entries = kept
	a.reindex()
	return nil
}

// Hash returns the hex SHA3-512 digest of an entry's content.
func (a *Archive) Hash(name string) (string, error) {
	entry, ok := a.Get(name)
	if !ok {
		return "", fmt.Errorf("%s: %w: %s", a.path, ErrEntryNotFound, name)
	}
	return digest(entry.Data), nil
}

// HashList renders one "name digest" line per entry in archive order,
// skipping the excluded names.
func (a *Archive) HashList(exclude ...string) []byte {
	skip := map[string]bool{}
	for _, name := range exclude {
		skip[cleanName(name)] = true
	}
	var buf bytes.Buffer
	for _, entry := range a.entries {
		if skip[entry.Name] {
			continue
		}
		buf.WriteString(entry.Name)
		buf.WriteByte(' ')
		buf.WriteString(digest(entry.Data))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Save writes the archive to its path, replacing any previous file.
func (a *Archive) Save() error {
	return a.SaveAs(a.path)
}

// SaveAs writes the archive to dest and rebinds the archive to it.
func (a *Archive) SaveAs(dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := a.write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write archive %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive %s: %w", dest, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("commit archive %s: %w", dest, err)
	}
	a.path = dest
	return nil
}

func (a *Archive) write(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, entry := range a.entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: entry.Name, Method: uint16(entry.Method)})
		if err != nil {
			return err
		}
		if _, err := fw.Write(entry.Data); err != nil {
			return err
		}
	}
	return zw.Close()
}

func (a *Archive) reindex() {
	a.index = make(map[string]int, len(a.entries))
	for i, entry := range a.entries {
		a.index[entry.Name] = i
	}
}

// Read loads the archive stored at path.
func Read(path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer zr.Close()

	archive := newArchive(path)
	for _, file := range zr.File {
		if file.FileInfo().IsDir() {
			continue
		}
		data, err := readFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s from %s: %w", file.Name, path, err)
		}
		if err := archive.Add(file.Name, Method(file.Method), data); err != nil {
			return nil, err
		}
	}
	return archive, nil
}

func readFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func digest(data []byte) string {
	sum := sha3.Sum512(data)
	return hex.EncodeToString(sum[:])
}

func cleanName(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(filepath.ToSlash(name)), "/")
}
