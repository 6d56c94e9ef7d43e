package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Stage names a directory of section artifacts.
type Stage string

const (
	Merged Stage = "merged"
	Signed Stage = "signed"
	Final  Stage = "final"
	Held   Stage = "held"
)

const archiveExt = ".pak"

// Layout fixes the directory structure of one build under an output root.
type Layout struct {
	Root string
}

// New returns the layout rooted at outputDir.
func New(outputDir string) Layout {
	return Layout{Root: outputDir}
}

// Gen is the generated-output root that tool invocations run in.
func (l Layout) Gen() string { return filepath.Join(l.Root, "gen") }

// Scratch is the signing tool's scratch directory.
func (l Layout) Scratch() string { return filepath.Join(l.Gen(), "scratch") }

// StageDir returns the directory for a stage.
func (l Layout) StageDir(stage Stage) string {
	return filepath.Join(l.Gen(), string(stage))
}

// SectionArchive returns <gen>/<stage>/<section>.pak.
func (l Layout) SectionArchive(stage Stage, section string) string {
	return filepath.Join(l.StageDir(stage), section+archiveExt)
}

// PartitionsFile is the plain-text list of section sizes.
func (l Layout) PartitionsFile() string { return filepath.Join(l.Gen(), "partitions.txt") }

// PartitionTable is the compiled partition table.
func (l Layout) PartitionTable() string { return filepath.Join(l.Gen(), "part.tbl") }

// Image returns the path of the assembled image.
func (l Layout) Image(name string) string { return filepath.Join(l.Root, name) }

// Lock is the path of the build lock file.
func (l Layout) Lock() string { return filepath.Join(l.Root, ".imgforge.lock") }

// Prepare removes and recreates every stage directory so that each run starts
// from scratch. Files directly under Gen, such as user-generated inputs
// referenced through %gen%, are left alone.
func (l Layout) Prepare() error {
	dirs := []string{l.Scratch()}
	for _, stage := range []Stage{Merged, Signed, Final, Held} {
		dirs = append(dirs, l.StageDir(stage))
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("reset %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Rebase maps an artifact path from one stage to another by replacing the
// last path segment equal to from with to. It is a pure string transform.
func Rebase(path string, from, to Stage) (string, error) {
	clean := filepath.Clean(path)
	segments := strings.Split(clean, string(filepath.Separator))
	for i := len(segments) - 2; i >= 0; i-- {
		if segments[i] == string(from) {
			segments[i] = string(to)
			return strings.Join(segments, string(filepath.Separator)), nil
		}
	}
	return "", fmt.Errorf("path %s has no %s stage segment", path, from)
}
