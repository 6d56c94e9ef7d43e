package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"imgforge/internal/config"
	"imgforge/internal/services"
	"imgforge/internal/tags"
)

const sectionsKey = "image_sections"

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

// Load reads and parses the manifest at path. Relative roots in the manifest
// are interpreted relative to the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrConfiguration, "manifest", "read", path, err)
		}
		return nil, services.Wrap(services.ErrIO, "manifest", "read", path, err)
	}
	return Parse(data, path)
}

// Parse decodes manifest bytes. source names the input in error messages and
// anchors relative root paths.
func Parse(data []byte, source string) (*Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, yamlError(source, err)
	}
	p := parser{source: source, baseDir: filepath.Dir(source)}
	return p.document(&doc)
}

type parser struct {
	source  string
	baseDir string
}

func (p parser) errorf(node *yaml.Node, format string, args ...any) error {
	err := &SyntaxError{File: p.source, Msg: fmt.Sprintf(format, args...)}
	if node != nil {
		err.Line = node.Line
		err.Column = node.Column
	}
	return err
}

func (p parser) document(doc *yaml.Node) (*Manifest, error) {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, p.errorf(nil, "empty manifest")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, p.errorf(root, "manifest must be a mapping")
	}

	m := &Manifest{Source: p.source, Sides: 1, Tags: tags.Table{}}
	var sectionsNode *yaml.Node
	seen := map[string]bool{}
	err := eachPair(root, func(key, value *yaml.Node) error {
		if seen[key.Value] {
			return p.errorf(key, "duplicate key %q", key.Value)
		}
		seen[key.Value] = true
		var err error
		switch key.Value {
		case "ekb_root":
			m.EKBRoot, err = p.root(value)
		case "sbe_root":
			m.SBERoot, err = p.root(value)
		case "sides":
			var sides int64
			if sides, err = p.integer(value); err == nil {
				if sides < 1 {
					return p.errorf(value, "sides must be at least 1")
				}
				m.Sides = int(sides)
			}
		case "golden_image":
			m.GoldenImage, err = p.str(value)
		case "tags":
			m.Tags, err = p.tagTable(value)
		case sectionsKey:
			sectionsNode = value
		default:
			return p.errorf(key, "unknown key %q", key.Value)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if sectionsNode == nil {
		return nil, p.errorf(root, "missing required key %q", sectionsKey)
	}
	if m.Sections, err = p.sections(sectionsNode); err != nil {
		return nil, err
	}
	return m, nil
}

func (p parser) sections(node *yaml.Node) ([]Section, error) {
	if node.Kind != yaml.MappingNode {
		return nil, p.errorf(node, "%s must be a mapping of section name to section", sectionsKey)
	}
	if len(node.Content) == 0 {
		return nil, p.errorf(node, "%s has no sections", sectionsKey)
	}
	var sections []Section
	seen := map[string]bool{}
	err := eachPair(node, func(key, value *yaml.Node) error {
		name := strings.TrimSpace(key.Value)
		if name == "" {
			return p.errorf(key, "section name must not be empty")
		}
		if strings.ContainsAny(name, `/\=`) || name == "." || name == ".." {
			return p.errorf(key, "section name %q must be a plain name without '/', '\\', '=' or '..'", name)
		}
		if seen[name] {
			return p.errorf(key, "duplicate section %q", name)
		}
		seen[name] = true
		section, err := p.section(name, value)
		if err != nil {
			return err
		}
		section.Position = len(sections)
		section.Line = key.Line
		sections = append(sections, section)
		return nil
	})
	return sections, err
}

func (p parser) section(name string, node *yaml.Node) (Section, error) {
	section := Section{Name: name, HashMethod: MethodStore}
	if node.Kind != yaml.MappingNode {
		return section, p.errorf(node, "section %q must be a mapping", name)
	}
	var sizeSet, hashPathSet bool
	var hashPathNode, imageHashNode *yaml.Node
	seen := map[string]bool{}
	err := eachPair(node, func(key, value *yaml.Node) error {
		if seen[key.Value] {
			return p.errorf(key, "section %q: duplicate key %q", name, key.Value)
		}
		seen[key.Value] = true
		var err error
		switch key.Value {
		case "partition_size":
			if section.PartitionSize, err = p.integer(value); err == nil {
				if section.PartitionSize < 0 {
					return p.errorf(value, "section %q: partition_size must not be negative", name)
				}
				sizeSet = true
			}
		case "archives":
			section.Archives, err = p.strList(value)
		case "files":
			section.Files, err = p.files(value)
		case "hashlist":
			section.HashList, err = p.str(value)
		case "hashpath":
			hashPathSet = true
			hashPathNode = value
			section.HashPath, err = p.str(value)
		case "hash_method":
			var method string
			if method, err = p.str(value); err == nil {
				method = strings.ToLower(method)
				if method != MethodStore && method != MethodDeflate {
					return p.errorf(value, "section %q: hash_method must be %s or %s", name, MethodStore, MethodDeflate)
				}
				section.HashMethod = method
			}
		case "imagehash":
			imageHashNode = value
			section.ImageHash, err = p.boolean(value)
		case "nohash":
			section.NoHash, err = p.strList(value)
		case "signed_image":
			section.SignedImage, err = p.str(value)
		default:
			return p.errorf(key, "section %q: unknown key %q", name, key.Value)
		}
		return err
	})
	if err != nil {
		return section, err
	}
	if !sizeSet {
		return section, p.errorf(node, "section %q: missing required key partition_size", name)
	}
	if section.HashList != "" && section.ImageHash {
		return section, p.errorf(imageHashNode, "section %q: hashlist and imagehash are mutually exclusive", name)
	}
	if hashPathSet && section.HashList == "" {
		return section, p.errorf(hashPathNode, "section %q: hashpath requires hashlist", name)
	}
	return section, nil
}

func (p parser) files(node *yaml.Node) ([]FileEntry, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, p.errorf(node, "files must be a list")
	}
	entries := make([]FileEntry, 0, len(node.Content))
	for _, item := range node.Content {
		var entry FileEntry
		switch item.Kind {
		case yaml.SequenceNode:
			if len(item.Content) != 2 {
				return nil, p.errorf(item, "file entry must be [name, path]")
			}
			var err error
			if entry.Name, err = p.str(item.Content[0]); err != nil {
				return nil, err
			}
			if entry.Path, err = p.str(item.Content[1]); err != nil {
				return nil, err
			}
		case yaml.MappingNode:
			err := eachPair(item, func(key, value *yaml.Node) error {
				var err error
				switch key.Value {
				case "name":
					entry.Name, err = p.str(value)
				case "path":
					entry.Path, err = p.str(value)
				default:
					return p.errorf(key, "file entry: unknown key %q", key.Value)
				}
				return err
			})
			if err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf(item, "file entry must be [name, path] or {name, path}")
		}
		if entry.Name == "" || entry.Path == "" {
			return nil, p.errorf(item, "file entry needs both name and path")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (p parser) tagTable(node *yaml.Node) (tags.Table, error) {
	if node.Kind != yaml.MappingNode {
		return nil, p.errorf(node, "tags must be a mapping")
	}
	table := tags.Table{}
	err := eachPair(node, func(key, value *yaml.Node) error {
		if strings.TrimSpace(key.Value) == "" {
			return p.errorf(key, "tag name must not be empty")
		}
		v, err := p.str(value)
		if err != nil {
			return err
		}
		table[key.Value] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := table.Validate(); err != nil {
		return nil, p.errorf(node, "%v", err)
	}
	return table, nil
}

func (p parser) root(node *yaml.Node) (string, error) {
	value, err := p.str(node)
	if err != nil || value == "" {
		return value, err
	}
	if !strings.HasPrefix(value, "~") && !filepath.IsAbs(value) {
		value = filepath.Join(p.baseDir, value)
	}
	expanded, err := config.ExpandPath(value)
	if err != nil {
		return "", p.errorf(node, "%v", err)
	}
	return expanded, nil
}

func (p parser) str(node *yaml.Node) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", p.errorf(node, "expected a string")
	}
	if node.Tag == "!!null" {
		return "", nil
	}
	return strings.TrimSpace(node.Value), nil
}

func (p parser) strList(node *yaml.Node) ([]string, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, p.errorf(node, "expected a list of strings")
	}
	values := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		value, err := p.str(item)
		if err != nil {
			return nil, err
		}
		if value == "" {
			return nil, p.errorf(item, "list item must not be empty")
		}
		values = append(values, value)
	}
	return values, nil
}

func (p parser) integer(node *yaml.Node) (int64, error) {
	if node.Kind != yaml.ScalarNode {
		return 0, p.errorf(node, "expected an integer")
	}
	text := strings.ReplaceAll(node.Value, "_", "")
	// Decimal unless 0x-prefixed; a leading zero is not octal.
	base := 10
	if digits := strings.TrimLeft(text, "+-"); len(digits) > 2 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		base = 0
	}
	value, err := strconv.ParseInt(text, base, 64)
	if err != nil {
		return 0, p.errorf(node, "expected an integer, got %q", node.Value)
	}
	return value, nil
}

func (p parser) boolean(node *yaml.Node) (bool, error) {
	var value bool
	if node.Kind != yaml.ScalarNode || node.Decode(&value) != nil {
		return false, p.errorf(node, "expected true or false, got %q", node.Value)
	}
	return value, nil
}

func eachPair(node *yaml.Node, fn func(key, value *yaml.Node) error) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i], node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func yamlError(source string, err error) error {
	syntax := &SyntaxError{File: source, Msg: strings.TrimPrefix(err.Error(), "yaml: ")}
	if match := yamlLinePattern.FindStringSubmatch(err.Error()); match != nil {
		syntax.Line, _ = strconv.Atoi(match[1])
	}
	return syntax
}
