package stager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"imgforge/internal/layout"
	"imgforge/internal/logging"
	"imgforge/internal/pak"
	"imgforge/internal/services"
)

// File is a literal entry with its resolved source. Missing sources are
// written as zero-length placeholders.
type File struct {
	Name    string
	Path    string
	Missing bool
}

// Request describes the inputs of one section's merged archive.
type Request struct {
	Section  string
	Files    []File
	Archives []string
}

// Result reports what Stage produced.
type Result struct {
	Section      string
	Path         string
	Placeholders []string
}

// Stager builds merged section archives.
type Stager struct {
	engine pak.Engine
	layout layout.Layout
	logger *slog.Logger
}

// New constructs a stager writing into the merged stage of l.
func New(engine pak.Engine, l layout.Layout, logger *slog.Logger) *Stager {
	return &Stager{engine: engine, layout: l, logger: logging.NewComponentLogger(logger, "stager")}
}

// Stage creates <merged>/<section>.pak from scratch: literal entries first,
// stored uncompressed, then every archive merged in order.
func (s *Stager) Stage(ctx context.Context, req Request) (Result, error) {
	ctx = services.WithSection(ctx, req.Section)
	logger := logging.WithContext(ctx, s.logger)
	dest := s.layout.SectionArchive(layout.Merged, req.Section)
	result := Result{Section: req.Section, Path: dest}

	archive, err := s.engine.Create(dest)
	if err != nil {
		return Result{}, services.Wrap(services.ErrIO, "stage", "create", dest, err)
	}
	for _, file := range req.Files {
		data, placeholder, err := readLiteral(file)
		if err != nil {
			return Result{}, services.Wrap(services.ErrIO, "stage", "read literal", file.Path, err)
		}
		if placeholder {
			result.Placeholders = append(result.Placeholders, file.Name)
			logging.WarnWithContext(logger, "literal file missing; writing empty placeholder", "literal_placeholder",
				logging.String("entry", file.Name),
				logging.String("path", file.Path),
				logging.String(logging.FieldErrorHint, "provide the file or an override if this target needs it"),
				logging.String(logging.FieldImpact, "entry is zero-length in the image"),
			)
		}
		if err := archive.Add(file.Name, pak.Store, data); err != nil {
			return Result{}, services.Wrap(services.ErrConfiguration, "stage", "add literal", file.Name, err)
		}
	}
	if err := archive.Save(); err != nil {
		return Result{}, services.Wrap(services.ErrIO, "stage", "save", dest, err)
	}

	if len(req.Archives) > 0 {
		if err := s.engine.Merge(ctx, dest, req.Archives...); err != nil {
			marker := services.ErrIO
			if errors.Is(err, services.ErrExternalTool) {
				marker = services.ErrExternalTool
			}
			return Result{}, services.Wrap(marker, "stage", "merge", fmt.Sprintf("section %s", req.Section), err)
		}
	}

	logger.Info("section staged",
		logging.String(logging.FieldEventType, "section_staged"),
		logging.String("archive", dest),
		logging.Int("literal_entries", len(req.Files)),
		logging.Int("merged_archives", len(req.Archives)),
	)
	return result, nil
}

func readLiteral(file File) ([]byte, bool, error) {
	if file.Missing || file.Path == "" {
		return nil, true, nil
	}
	data, err := os.ReadFile(file.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}
