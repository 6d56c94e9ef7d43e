package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"imgforge/internal/buildlock"
	"imgforge/internal/extract"
	"imgforge/internal/logging"
	"imgforge/internal/resolve"
	"imgforge/internal/services"
)

// MarkerFile records the URL a snapshot directory was populated from.
const MarkerFile = ".release"

const lockRetry = 200 * time.Millisecond

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithTimeout bounds the whole download.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.client.Timeout = timeout
		}
	}
}

// WithProgress renders a progress bar to w while downloading.
func WithProgress(w io.Writer) Option {
	return func(f *Fetcher) {
		f.progress = w
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// Fetcher downloads release snapshots of pre-built binaries.
type Fetcher struct {
	client   *http.Client
	progress io.Writer
	logger   *slog.Logger
}

// New constructs a Fetcher.
func New(logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &Fetcher{
		client: &http.Client{Timeout: 10 * time.Minute},
		logger: logging.NewComponentLogger(logger, "release"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch populates dir with the compressed tarball at rawURL. A directory
// already populated from the same URL is left untouched. The returned bool
// reports whether a download happened.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dir string) (bool, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return false, services.Wrap(services.ErrConfiguration, "release", "fetch", "no release url configured", nil)
	}
	if dir == "" {
		return false, services.Wrap(services.ErrConfiguration, "release", "fetch", "no binaries directory configured", nil)
	}
	if Current(dir) == rawURL {
		f.logReused(dir, rawURL)
		return false, nil
	}

	name, err := archiveName(rawURL)
	if err != nil {
		return false, services.Wrap(services.ErrConfiguration, "release", "fetch", rawURL, err)
	}
	if !extract.IsCompressed(name) {
		return false, services.Wrap(services.ErrConfiguration, "release", "fetch",
			fmt.Sprintf("%s is not a compressed tarball", name), nil)
	}

	// Builds with different output directories still share dir.
	lock, err := buildlock.Wait(ctx, LockPath(dir), lockRetry)
	if err != nil {
		return false, err
	}
	defer lock.Release()
	if Current(dir) == rawURL {
		f.logReused(dir, rawURL)
		return false, nil
	}
	return f.fetchLocked(ctx, rawURL, name, dir)
}

// LockPath is the lock serializing fetches into dir. It sits beside dir
// because dir itself is replaced on install.
func LockPath(dir string) string {
	clean := filepath.Clean(dir)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".lock")
}

func (f *Fetcher) logReused(dir, rawURL string) {
	f.logger.Info("release snapshot up to date",
		logging.String("dir", dir),
		logging.String("url", rawURL),
		logging.String(logging.FieldEventType, "release_reused"),
	)
}

func (f *Fetcher) fetchLocked(ctx context.Context, rawURL, name, dir string) (bool, error) {
	parent := filepath.Dir(filepath.Clean(dir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return false, services.Wrap(services.ErrIO, "release", "fetch", "create parent dir", err)
	}
	download, err := os.CreateTemp(parent, ".release-download-*")
	if err != nil {
		return false, services.Wrap(services.ErrIO, "release", "fetch", "create temp file", err)
	}
	defer os.Remove(download.Name())
	defer download.Close()

	start := time.Now()
	size, err := f.download(ctx, rawURL, download)
	if err != nil {
		return false, err
	}
	f.logger.Info("release downloaded",
		logging.String("url", rawURL),
		logging.String("size", humanize.IBytes(uint64(size))),
		logging.Duration("duration", time.Since(start)),
		logging.String(logging.FieldEventType, "release_downloaded"),
	)

	if _, err := download.Seek(0, io.SeekStart); err != nil {
		return false, services.Wrap(services.ErrIO, "release", "fetch", "rewind download", err)
	}
	if err := install(name, download, dir); err != nil {
		return false, services.Wrap(services.ErrIO, "release", "extract", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, MarkerFile), []byte(rawURL+"\n"), 0o644); err != nil {
		return false, services.Wrap(services.ErrIO, "release", "fetch", "write marker", err)
	}
	return true, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string, out io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrConfiguration, "release", "download", rawURL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, services.Wrap(services.ErrIO, "release", "download", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, services.Wrap(services.ErrIO, "release", "download",
			fmt.Sprintf("%s returned %s", rawURL, resp.Status), nil)
	}

	dst := out
	var bar *progressbar.ProgressBar
	if f.progress != nil {
		bar = progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(f.progress),
			progressbar.OptionSetDescription("release"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		dst = io.MultiWriter(out, bar)
	}
	n, err := io.Copy(dst, resp.Body)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return n, services.Wrap(services.ErrIO, "release", "download", rawURL, err)
	}
	return n, nil
}

// install unpacks the tarball into a sibling staging directory and swaps it
// into place so a failed extraction leaves the previous snapshot intact.
func install(name string, r io.Reader, dir string) error {
	rc, isTar, err := extract.NewReader(name, r)
	if err != nil {
		return err
	}
	defer rc.Close()
	if !isTar {
		return fmt.Errorf("%s is not a tarball", name)
	}
	staging, err := os.MkdirTemp(filepath.Dir(filepath.Clean(dir)), ".release-staging-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)
	if err := extract.Untar(rc, staging); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.Rename(staging, dir)
}

// Current returns the URL recorded for dir, or "" when none is recorded.
func Current(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Index maps the snapshot's files by basename. Duplicate basenames are
// logged and the lexically first path is kept.
func Index(dir string, logger *slog.Logger) (map[string]string, error) {
	index, duplicates, err := resolve.Index(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "release", "index", dir, err)
	}
	delete(index, MarkerFile)
	if logger == nil {
		logger = logging.NewNop()
	}
	for _, dup := range duplicates {
		if filepath.Base(dup) == MarkerFile {
			continue
		}
		logging.WarnWithContext(logger, "duplicate binary name in release snapshot", "release_duplicate",
			logging.String("path", dup),
			logging.String("kept", index[filepath.Base(dup)]),
			logging.String(logging.FieldErrorHint, "rename one of the files or use an override"),
			logging.String(logging.FieldImpact, "the duplicate is ignored"),
		)
	}
	return index, nil
}

func archiveName(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "/" || name == "." {
		return "", errors.New("url has no file name")
	}
	return name, nil
}
