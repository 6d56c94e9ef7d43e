package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"imgforge/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	OutputDir   string `toml:"output_dir"`
	OverrideDir string `toml:"override_dir"`
	BinariesDir string `toml:"binaries_dir"`
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
}

// Tools names the external image tools. Bare names are looked up in ToolDir
// when it is set, otherwise on PATH.
type Tools struct {
	ToolDir        string `toml:"tool_dir"`
	Paktool        string `toml:"paktool"`
	Sign           string `toml:"sign"`
	Hash           string `toml:"hash"`
	Flashbuild     string `toml:"flashbuild"`
	ECC            string `toml:"ecc"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Archive selects the archive engine implementation.
type Archive struct {
	// Engine is "native" (in-process container codec) or "paktool" (merges
	// are delegated to the external paktool binary).
	Engine string `toml:"engine"`
}

// Build contains defaults for image builds.
type Build struct {
	ImageName  string `toml:"image_name"`
	Jobs       int    `toml:"jobs"`
	TargetArch string `toml:"target_arch"`
	EKBRoot    string `toml:"ekb_root"`
	SBERoot    string `toml:"sbe_root"`
}

// Release contains configuration for the pre-fetched release binaries snapshot.
type Release struct {
	URL            string `toml:"url"`
	SkipDownload   bool   `toml:"skip_download"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notify contains configuration for build notifications.
type Notify struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for imgforge.
//
// Configuration sections by subsystem:
//   - Paths: output, override, binaries, state and log directories
//   - Tools: external tool binaries and invocation timeout
//   - Archive: archive engine selection
//   - Build: image name, parallelism, target arch and upstream roots
//   - Release: release snapshot download
//   - Notify: ntfy build notifications
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Tools   Tools   `toml:"tools"`
	Archive Archive `toml:"archive"`
	Build   Build   `toml:"build"`
	Release Release `toml:"release"`
	Notify  Notify  `toml:"notify"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/imgforge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		data, err := os.ReadFile(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", false, decodeError(resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "normalize", resolvedPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "validate", resolvedPath, err)
	}

	return &cfg, resolvedPath, exists, nil
}

func decodeError(path string, err error) error {
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		row, col := derr.Position()
		return services.Wrap(services.ErrConfiguration, "config", "parse",
			fmt.Sprintf("%s:%d:%d", path, row, col), err)
	}
	return services.Wrap(services.ErrConfiguration, "config", "parse", path, err)
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("imgforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state, log and binaries directories. The
// output directory is created by the pipeline once inputs have resolved.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.BinariesDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PaktoolBinary returns the paktool executable used for external merges.
func (c *Config) PaktoolBinary() string { return c.toolPath(c.Tools.Paktool) }

// SignBinary returns the signing tool executable.
func (c *Config) SignBinary() string { return c.toolPath(c.Tools.Sign) }

// HashBinary returns the hashing tool executable.
func (c *Config) HashBinary() string { return c.toolPath(c.Tools.Hash) }

// FlashbuildBinary returns the partition-table compiler and image builder executable.
func (c *Config) FlashbuildBinary() string { return c.toolPath(c.Tools.Flashbuild) }

// ECCBinary returns the ECC injector executable.
func (c *Config) ECCBinary() string { return c.toolPath(c.Tools.ECC) }

// HistoryPath returns the build history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

func (c *Config) toolPath(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || c.Tools.ToolDir == "" || strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	return filepath.Join(c.Tools.ToolDir, name)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
