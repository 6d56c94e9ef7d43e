package tags

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Built-in tag names.
const (
	Gen         = "%gen%"
	EKBImageDir = "%ekbImageDir%"
	SBEBuildDir = "%sbeBuildDir%"
	SBERoot     = "%sbeRoot%"
	OverrideDir = "%overrideDir%"
	BinDir      = "%binDir%"
)

// Table maps tag placeholders to substitution values.
type Table map[string]string

// Roots carries the directories the built-in tags point at.
type Roots struct {
	OutputDir   string
	EKBRoot     string
	SBERoot     string
	TargetArch  string
	OverrideDir string
	BinariesDir string
}

// Builtin returns the standard tag table for the given roots. Tags whose root
// is unset expand to the empty string.
func Builtin(r Roots) Table {
	return Table{
		Gen:         joinIfSet(r.OutputDir, "gen"),
		EKBImageDir: joinIfSet(r.EKBRoot, "output", "images", r.TargetArch),
		SBEBuildDir: joinIfSet(r.SBERoot, "builddir"),
		SBERoot:     r.SBERoot,
		OverrideDir: r.OverrideDir,
		BinDir:      r.BinariesDir,
	}
}

// Merge returns a new table holding base plus extra. Extra entries win.
func Merge(base, extra Table) Table {
	out := make(Table, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Validate reports an error if a tag name is empty or if one tag name is a
// substring of another, which would make expansion order dependent.
func (t Table) Validate() error {
	names := t.Names()
	for _, name := range names {
		if name == "" {
			return errors.New("empty tag name")
		}
	}
	for i, a := range names {
		for j, b := range names {
			if i != j && strings.Contains(b, a) {
				return fmt.Errorf("tag %q overlaps tag %q", a, b)
			}
		}
	}
	return nil
}

// Names returns the tag names in sorted order.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expand replaces every tag occurrence in template with its value. It is a
// single find-and-replace pass per tag; substituted values are not rescanned.
func Expand(template string, t Table) string {
	if template == "" || len(t) == 0 || !strings.Contains(template, "%") {
		return template
	}
	pairs := make([]string, 0, len(t)*2)
	for _, name := range t.Names() {
		pairs = append(pairs, name, t[name])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func joinIfSet(root string, elems ...string) string {
	if root == "" {
		return ""
	}
	return filepath.Join(append([]string{root}, elems...)...)
}
