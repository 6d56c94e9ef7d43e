package assemble

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/dustin/go-humanize"

	"imgforge/internal/fileutil"
	"imgforge/internal/layout"
	"imgforge/internal/logging"
	"imgforge/internal/manifest"
	"imgforge/internal/policy"
	"imgforge/internal/services"
	"imgforge/internal/services/toolexec"
)

// Partition is one entry of the partition table.
type Partition struct {
	Name string
	Size int64
}

// Partitions lists sections and their sizes in manifest order.
func Partitions(m *manifest.Manifest) []Partition {
	parts := make([]Partition, 0, len(m.Sections))
	for _, section := range m.Sections {
		parts = append(parts, Partition{Name: section.Name, Size: section.PartitionSize})
	}
	return parts
}

// FlashBuilder compiles partition tables and builds images.
type FlashBuilder interface {
	CompilePartitionTable(ctx context.Context, workDir, partitionsFile, tableFile string) error
	BuildImage(ctx context.Context, workDir, tableFile, image string, partitions []toolexec.Pair) error
}

// ECCInjector writes the ECC sibling of an image.
type ECCInjector interface {
	Inject(ctx context.Context, workDir, image string) (string, error)
}

// Assembler turns final section archives into a flash image.
type Assembler struct {
	flash  FlashBuilder
	ecc    ECCInjector
	layout layout.Layout
	logger *slog.Logger
}

// New constructs an assembler.
func New(flash FlashBuilder, ecc ECCInjector, l layout.Layout, logger *slog.Logger) *Assembler {
	return &Assembler{flash: flash, ecc: ecc, layout: l, logger: logging.NewComponentLogger(logger, "assemble")}
}

// PartitionTable writes the partitions file and compiles it.
func (a *Assembler) PartitionTable(ctx context.Context, parts []Partition) (string, error) {
	var buf bytes.Buffer
	for _, part := range parts {
		fmt.Fprintf(&buf, "%s %d\n", part.Name, part.Size)
	}
	partitionsFile := a.layout.PartitionsFile()
	if err := os.WriteFile(partitionsFile, buf.Bytes(), 0o644); err != nil {
		return "", services.Wrap(services.ErrIO, "assemble", "write partitions", partitionsFile, err)
	}
	table := a.layout.PartitionTable()
	if err := a.flash.CompilePartitionTable(ctx, a.layout.Gen(), partitionsFile, table); err != nil {
		return "", err
	}
	a.logger.Info("partition table compiled",
		logging.String(logging.FieldEventType, "ptable_compiled"),
		logging.String("table", table),
		logging.Int("partitions", len(parts)),
	)
	return table, nil
}

// BuildImage assembles the image from the partition table and the final
// archives, passed in the order given.
func (a *Assembler) BuildImage(ctx context.Context, table, imageName string, finals []policy.FinalSection) (string, error) {
	pairs := make([]toolexec.Pair, 0, len(finals))
	for _, final := range finals {
		pairs = append(pairs, toolexec.Pair{Name: final.Section.Name, Path: final.Path})
	}
	image := a.layout.Image(imageName)
	if err := a.flash.BuildImage(ctx, a.layout.Gen(), table, image, pairs); err != nil {
		return "", err
	}
	return image, nil
}

// Replication describes how an image is laid out across sides.
type Replication struct {
	Sides  int
	Golden string
}

// PlanReplication picks the side count and golden image. A caller override
// replaces the manifest side count and suppresses the golden image. A single
// side never carries a golden image.
func PlanReplication(manifestSides int, golden string, overrideSides int) Replication {
	if overrideSides > 0 {
		return Replication{Sides: overrideSides}
	}
	if manifestSides <= 1 {
		return Replication{Sides: 1}
	}
	return Replication{Sides: manifestSides, Golden: golden}
}

// Replicate rewrites image as Sides back-to-back copies followed by the
// golden image, when Sides > 1. Otherwise the image is left alone.
func (a *Assembler) Replicate(image string, r Replication) (fileutil.Digest, error) {
	if r.Sides <= 1 {
		digest, err := fileutil.FileDigest(image)
		if err != nil {
			return fileutil.Digest{}, services.Wrap(services.ErrIO, "assemble", "digest", image, err)
		}
		return digest, nil
	}
	single := image + ".single"
	if err := os.Rename(image, single); err != nil {
		return fileutil.Digest{}, services.Wrap(services.ErrIO, "assemble", "replicate", image, err)
	}
	defer os.Remove(single)

	parts := slices.Repeat([]string{single}, r.Sides)
	if r.Golden != "" {
		parts = append(parts, r.Golden)
	}
	digest, err := fileutil.Concat(image, parts...)
	if err != nil {
		return fileutil.Digest{}, services.Wrap(services.ErrIO, "assemble", "replicate", image, err)
	}
	a.logger.Info("image replicated",
		logging.String(logging.FieldEventType, "image_replicated"),
		logging.Int("sides", r.Sides),
		logging.Bool("golden", r.Golden != ""),
		logging.String("size", humanize.IBytes(uint64(digest.Size))),
	)
	return digest, nil
}

// InjectECC produces the .ecc sibling of image.
func (a *Assembler) InjectECC(ctx context.Context, image string) (string, error) {
	return a.ecc.Inject(ctx, a.layout.Gen(), image)
}
