package manifest_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"imgforge/internal/manifest"
	"imgforge/internal/services"
)

const sampleManifest = `
ekb_root: ekb
sides: 2
golden_image: "%gen%/golden.bin"
tags:
  "%fw%": /opt/fw
image_sections:
  zeta:
    partition_size: 4096
    files:
      - [boot.cfg, "%gen%/boot.cfg"]
      - {name: version, path: "%fw%/version"}
    imagehash: true
  alpha:
    partition_size: 0x10000
    archives: ["%ekbImageDir%/rt.pak", "%sbeBuildDir%/rt.pak.xz"]
    hashlist: hash.list
    hashpath: rt/
    nohash: ["rt/*.sig"]
  mid:
    partition_size: 1_024
    signed_image: "%sbeRoot%/prebuilt/mid.pak"
`

func TestParsePreservesSectionOrder(t *testing.T) {
	m, err := manifest.Parse([]byte(sampleManifest), "/work/image.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff([]string{"zeta", "alpha", "mid"}, m.Names()); diff != "" {
		t.Fatalf("section order mismatch (-want +got):\n%s", diff)
	}
	for i, section := range m.Sections {
		if section.Position != i {
			t.Fatalf("section %s has position %d, want %d", section.Name, section.Position, i)
		}
	}
}

func TestParseSectionFields(t *testing.T) {
	m, err := manifest.Parse([]byte(sampleManifest), "/work/image.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.EKBRoot != filepath.Join("/work", "ekb") {
		t.Fatalf("expected relative ekb_root anchored at manifest dir, got %q", m.EKBRoot)
	}
	if m.Sides != 2 || m.GoldenImage != "%gen%/golden.bin" {
		t.Fatalf("unexpected globals: sides=%d golden=%q", m.Sides, m.GoldenImage)
	}
	if m.Tags["%fw%"] != "/opt/fw" {
		t.Fatalf("unexpected tags: %v", m.Tags)
	}

	zeta, _ := m.Section("zeta")
	want := []manifest.FileEntry{{Name: "boot.cfg", Path: "%gen%/boot.cfg"}, {Name: "version", Path: "%fw%/version"}}
	if diff := cmp.Diff(want, zeta.Files); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
	if !zeta.ImageHash || zeta.PartitionSize != 4096 {
		t.Fatalf("unexpected zeta: %+v", zeta)
	}

	alpha, _ := m.Section("alpha")
	if alpha.PartitionSize != 0x10000 {
		t.Fatalf("expected hex partition size, got %d", alpha.PartitionSize)
	}
	if alpha.HashListEntry() != "rt/hash.list" {
		t.Fatalf("unexpected hash list entry: %q", alpha.HashListEntry())
	}
	if alpha.HashMethod != manifest.MethodStore {
		t.Fatalf("expected default store method, got %q", alpha.HashMethod)
	}
	if diff := cmp.Diff([]string{"rt/*.sig"}, alpha.NoHash); diff != "" {
		t.Fatalf("nohash mismatch:\n%s", diff)
	}

	mid, _ := m.Section("mid")
	if mid.PartitionSize != 1024 || mid.SignedImage == "" {
		t.Fatalf("unexpected mid: %+v", mid)
	}
	if m.TotalPartitionSize() != 4096+0x10000+1024 {
		t.Fatalf("unexpected total size %d", m.TotalPartitionSize())
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		message string
		line    int
	}{
		{
			name:    "missing sections",
			input:   "sides: 1\n",
			message: "missing required key",
			line:    1,
		},
		{
			name:    "unknown top-level key",
			input:   "image_sections:\n  a:\n    partition_size: 1\nbogus: 1\n",
			message: `unknown key "bogus"`,
			line:    4,
		},
		{
			name:    "unknown section key",
			input:   "image_sections:\n  a:\n    partition_size: 1\n    archive: [x]\n",
			message: `unknown key "archive"`,
			line:    4,
		},
		{
			name:    "missing partition size",
			input:   "image_sections:\n  a:\n    archives: [x]\n",
			message: "partition_size",
			line:    3,
		},
		{
			name:    "negative partition size",
			input:   "image_sections:\n  a:\n    partition_size: -1\n",
			message: "must not be negative",
			line:    3,
		},
		{
			name:    "hashlist and imagehash",
			input:   "image_sections:\n  a:\n    partition_size: 1\n    hashlist: h\n    imagehash: true\n",
			message: "mutually exclusive",
			line:    5,
		},
		{
			name:    "hashpath without hashlist",
			input:   "image_sections:\n  a:\n    partition_size: 1\n    hashpath: x/\n",
			message: "hashpath requires hashlist",
			line:    4,
		},
		{
			name:    "wrong type",
			input:   "image_sections:\n  a:\n    partition_size: big\n",
			message: "expected an integer",
			line:    3,
		},
		{
			name:    "overlapping tags",
			input:   "tags:\n  \"%a%\": x\n  \"%a%b\": y\nimage_sections:\n  a:\n    partition_size: 1\n",
			message: "overlaps",
			line:    2,
		},
		{
			name:    "section name with equals",
			input:   "image_sections:\n  a=b:\n    partition_size: 1\n",
			message: "section name",
			line:    2,
		},
		{
			name:    "section name escaping stage dir",
			input:   "image_sections:\n  ../x:\n    partition_size: 1\n",
			message: "section name",
			line:    2,
		},
		{
			name:    "section name dot dot",
			input:   "image_sections:\n  \"..\":\n    partition_size: 1\n",
			message: "section name",
			line:    2,
		},
		{
			name:    "unparsable",
			input:   "image_sections:\n  a: [\n",
			message: "",
			line:    0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manifest.Parse([]byte(tc.input), "image.yaml")
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			var syntax *manifest.SyntaxError
			if !errors.As(err, &syntax) {
				t.Fatalf("expected SyntaxError, got %T", err)
			}
			if tc.message != "" && !strings.Contains(syntax.Msg, tc.message) {
				t.Fatalf("expected message containing %q, got %q", tc.message, syntax.Msg)
			}
			if tc.line != 0 && syntax.Line != tc.line {
				t.Fatalf("expected line %d, got %d (%v)", tc.line, syntax.Line, err)
			}
		})
	}
}

func TestLoadMissingFileIsConfigError(t *testing.T) {
	_, err := manifest.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestParseIntegerBases(t *testing.T) {
	input := "image_sections:\n  dec:\n    partition_size: 010\n  hex:\n    partition_size: 0x10\n  sep:\n    partition_size: 1_024\n"
	m, err := manifest.Parse([]byte(input), "image.yaml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := map[string]int64{"dec": 10, "hex": 16, "sep": 1024}
	for _, section := range m.Sections {
		if section.PartitionSize != want[section.Name] {
			t.Fatalf("%s: partition_size = %d, want %d", section.Name, section.PartitionSize, want[section.Name])
		}
	}
}
