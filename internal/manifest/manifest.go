package manifest

import (
	"path"
	"strings"

	"imgforge/internal/tags"
)

// Hash-list entry compression methods.
const (
	MethodStore   = "store"
	MethodDeflate = "deflate"
)

// FileEntry is a literal entry injected into a merged archive before any
// sub-archive is merged.
type FileEntry struct {
	Name string
	Path string
}

// Section is one named partition of the flash image as declared in the
// manifest. Section values are never modified once parsed.
type Section struct {
	Name          string
	Position      int
	PartitionSize int64
	Archives      []string
	Files         []FileEntry
	HashList      string
	HashPath      string
	HashMethod    string
	ImageHash     bool
	NoHash        []string
	SignedImage   string
	Line          int
}

// HashListEntry returns the archive entry name the synthesized hash list is
// written under, or "" when the section carries no hash list.
func (s Section) HashListEntry() string {
	if s.HashList == "" {
		return ""
	}
	return path.Join(strings.Trim(s.HashPath, "/"), s.HashList)
}

// Manifest is the parsed image description.
type Manifest struct {
	Source      string
	EKBRoot     string
	SBERoot     string
	Sides       int
	GoldenImage string
	Tags        tags.Table
	Sections    []Section
}

// Section looks a section up by name.
func (m *Manifest) Section(name string) (Section, bool) {
	for _, section := range m.Sections {
		if section.Name == name {
			return section, true
		}
	}
	return Section{}, false
}

// Names lists section names in manifest order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Sections))
	for _, section := range m.Sections {
		names = append(names, section.Name)
	}
	return names
}

// TotalPartitionSize sums the partition sizes of every section.
func (m *Manifest) TotalPartitionSize() int64 {
	var total int64
	for _, section := range m.Sections {
		total += section.PartitionSize
	}
	return total
}
