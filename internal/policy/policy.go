package policy

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"imgforge/internal/fileutil"
	"imgforge/internal/layout"
	"imgforge/internal/logging"
	"imgforge/internal/manifest"
	"imgforge/internal/pak"
	"imgforge/internal/services"
	"imgforge/internal/services/toolexec"
)

// Signer signs a batch of sections.
type Signer interface {
	Sign(ctx context.Context, workDir, scratchDir, outputDir string, inputs []toolexec.Pair) (map[string]string, error)
}

// Hasher hashes a batch of sections.
type Hasher interface {
	Hash(ctx context.Context, workDir, outputDir string, inputs []toolexec.Pair) (map[string]string, error)
}

// MergedSection is a section after staging and policy preparation.
type MergedSection struct {
	Section manifest.Section
	Class   Class
	// Path is the merged archive; empty for pre-signed sections.
	Path string
	// Source is the resolved pre-signed archive for pre-signed sections.
	Source string
	// HeldPath holds entries excluded from hashing; empty when none were held.
	HeldPath string
	Held     []string
}

// FinalSection is a section whose final archive exists.
type FinalSection struct {
	Section manifest.Section
	Class   Class
	Path    string
	Digest  fileutil.Digest
}

// Engine applies section policies.
type Engine struct {
	archives pak.Engine
	layout   layout.Layout
	signer   Signer
	hasher   Hasher
	logger   *slog.Logger
}

// New constructs a policy engine.
func New(archives pak.Engine, l layout.Layout, signer Signer, hasher Hasher, logger *slog.Logger) *Engine {
	return &Engine{
		archives: archives,
		layout:   l,
		signer:   signer,
		hasher:   hasher,
		logger:   logging.NewComponentLogger(logger, "policy"),
	}
}

// FinalPath returns where a section's final archive lives.
func (e *Engine) FinalPath(m MergedSection) (string, error) {
	if m.Class == PreSigned {
		return e.layout.SectionArchive(layout.Final, m.Section.Name), nil
	}
	return layout.Rebase(m.Path, layout.Merged, layout.Final)
}

// PreSignedSection records a pre-signed section whose final archive is copied
// from source.
func PreSignedSection(section manifest.Section, source string) MergedSection {
	return MergedSection{Section: section, Class: PreSigned, Source: source}
}

// Prepare readies a merged archive for its policy: entries matching the
// section's no-hash patterns are moved to a held archive for hashed classes,
// and sign-and-hash sections get their hash list written into the archive.
func (e *Engine) Prepare(ctx context.Context, section manifest.Section, class Class, mergedPath string) (MergedSection, error) {
	ctx = services.WithSection(ctx, section.Name)
	logger := logging.WithContext(ctx, e.logger)
	m := MergedSection{Section: section, Class: class, Path: mergedPath}
	if !class.Hashes() {
		return m, nil
	}

	archive, err := e.archives.Open(mergedPath)
	if err != nil {
		return MergedSection{}, services.Wrap(services.ErrIO, "policy", "open merged", mergedPath, err)
	}
	dirty := false

	if len(section.NoHash) > 0 {
		held, err := e.hold(logger, section, archive)
		if err != nil {
			return MergedSection{}, err
		}
		if len(held) > 0 {
			m.Held = held
			m.HeldPath = e.layout.SectionArchive(layout.Held, section.Name)
			dirty = true
		}
	}

	if class == SignAndHash {
		if err := e.writeHashList(logger, section, archive); err != nil {
			return MergedSection{}, err
		}
		dirty = true
	}

	if dirty {
		if err := archive.Save(); err != nil {
			return MergedSection{}, services.Wrap(services.ErrIO, "policy", "save merged", mergedPath, err)
		}
	}
	return m, nil
}

func (e *Engine) hold(logger *slog.Logger, section manifest.Section, archive *pak.Archive) ([]string, error) {
	var names []string
	for _, pattern := range section.NoHash {
		matches, err := archive.Find(pattern)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "policy", "nohash", section.Name, err)
		}
		if len(matches) == 0 {
			logging.WarnWithContext(logger, "no-hash pattern matched no entries", "nohash_not_found",
				logging.String("pattern", pattern),
				logging.String(logging.FieldErrorHint, "check the nohash patterns for this section"),
				logging.String(logging.FieldImpact, "pattern skipped"),
			)
			continue
		}
		for _, name := range matches {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	heldPath := e.layout.SectionArchive(layout.Held, section.Name)
	held, err := e.archives.Create(heldPath)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "policy", "create held", heldPath, err)
	}
	for _, name := range names {
		entry, _ := archive.Get(name)
		if err := held.Append(entry); err != nil {
			return nil, services.Wrap(services.ErrIO, "policy", "hold", name, err)
		}
	}
	if err := held.Save(); err != nil {
		return nil, services.Wrap(services.ErrIO, "policy", "save held", heldPath, err)
	}
	if err := archive.Remove(names...); err != nil {
		return nil, services.Wrap(services.ErrIO, "policy", "remove held", section.Name, err)
	}
	logger.Info("entries held from hashing",
		logging.String(logging.FieldEventType, "nohash_held"),
		logging.Strings("entries", names),
		logging.String("held_archive", heldPath),
	)
	return names, nil
}

func (e *Engine) writeHashList(logger *slog.Logger, section manifest.Section, archive *pak.Archive) error {
	entry := section.HashListEntry()
	method, err := pak.ParseMethod(section.HashMethod)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "policy", "hash method", section.Name, err)
	}
	if _, exists := archive.Get(entry); exists {
		if err := archive.Remove(entry); err != nil {
			return services.Wrap(services.ErrIO, "policy", "replace hash list", entry, err)
		}
	}
	list := archive.HashList()
	if err := archive.Add(entry, method, list); err != nil {
		return services.Wrap(services.ErrIO, "policy", "add hash list", entry, err)
	}
	logger.Info("hash list written",
		logging.String(logging.FieldEventType, "hashlist_written"),
		logging.String("entry", entry),
		logging.Int("hashed_entries", archive.Len()-1),
	)
	return nil
}

// Sign sends every sign-and-hash section to the signing tool in one batch and
// returns the signed archive per section name.
func (e *Engine) Sign(ctx context.Context, sections []MergedSection) (map[string]string, error) {
	var inputs []toolexec.Pair
	for _, m := range sections {
		if m.Class.Signs() {
			inputs = append(inputs, toolexec.Pair{Name: m.Section.Name, Path: m.Path})
		}
	}
	if len(inputs) == 0 {
		return map[string]string{}, nil
	}
	signedDir := e.layout.StageDir(layout.Signed)
	outputs, err := e.signer.Sign(ctx, e.layout.Gen(), e.layout.Scratch(), signedDir, inputs)
	if err != nil {
		return nil, err
	}
	for _, in := range inputs {
		want, err := layout.Rebase(in.Path, layout.Merged, layout.Signed)
		if err != nil {
			return nil, services.Wrap(services.ErrIO, "policy", "sign", in.Name, err)
		}
		if outputs[in.Name] != want {
			return nil, services.Wrap(services.ErrExternalTool, "policy", "sign",
				fmt.Sprintf("section %s signed to %q, expected %q", in.Name, outputs[in.Name], want), nil)
		}
	}
	return outputs, nil
}

// Hash sends every hashed section to the hashing tool in one batch. Signed
// sections are read from the signed stage, hash-only sections from merged.
func (e *Engine) Hash(ctx context.Context, sections []MergedSection, signed map[string]string) error {
	var inputs []toolexec.Pair
	for _, m := range sections {
		switch m.Class {
		case SignAndHash:
			path, ok := signed[m.Section.Name]
			if !ok {
				return services.Wrap(services.ErrIncomplete, "policy", "hash",
					fmt.Sprintf("section %s has no signed archive", m.Section.Name), nil)
			}
			inputs = append(inputs, toolexec.Pair{Name: m.Section.Name, Path: path})
		case HashOnly:
			inputs = append(inputs, toolexec.Pair{Name: m.Section.Name, Path: m.Path})
		}
	}
	if len(inputs) == 0 {
		return nil
	}
	_, err := e.hasher.Hash(ctx, e.layout.Gen(), e.layout.StageDir(layout.Final), inputs)
	return err
}

// Carry copies as-is sections from merged to final and pre-signed sections
// from their configured archive to final.
func (e *Engine) Carry(ctx context.Context, sections []MergedSection) error {
	for _, m := range sections {
		var src string
		switch m.Class {
		case AsIs:
			src = m.Path
		case PreSigned:
			src = m.Source
		default:
			continue
		}
		dst, err := e.FinalPath(m)
		if err != nil {
			return services.Wrap(services.ErrIO, "policy", "carry", m.Section.Name, err)
		}
		digest, err := fileutil.CopyFileVerified(src, dst)
		if err != nil {
			return services.Wrap(services.ErrIO, "policy", "carry", fmt.Sprintf("%s -> %s", src, dst), err)
		}
		logging.WithContext(services.WithSection(ctx, m.Section.Name), e.logger).Info("section carried to final",
			logging.String(logging.FieldEventType, "section_carried"),
			logging.String("policy", string(m.Class)),
			logging.String("source", src),
			logging.Int64("size", digest.Size),
		)
	}
	return nil
}

// Restore appends held entries back into each section's final archive.
func (e *Engine) Restore(ctx context.Context, sections []MergedSection) error {
	for _, m := range sections {
		if m.HeldPath == "" {
			continue
		}
		finalPath, err := e.FinalPath(m)
		if err != nil {
			return services.Wrap(services.ErrIO, "policy", "restore", m.Section.Name, err)
		}
		final, err := e.archives.Open(finalPath)
		if err != nil {
			return services.Wrap(services.ErrIO, "policy", "open final", finalPath, err)
		}
		held, err := e.archives.Open(m.HeldPath)
		if err != nil {
			return services.Wrap(services.ErrIO, "policy", "open held", m.HeldPath, err)
		}
		if err := final.Append(held.Entries()...); err != nil {
			return services.Wrap(services.ErrIO, "policy", "restore", m.Section.Name, err)
		}
		if err := final.Save(); err != nil {
			return services.Wrap(services.ErrIO, "policy", "save final", finalPath, err)
		}
		logging.WithContext(services.WithSection(ctx, m.Section.Name), e.logger).Info("held entries restored",
			logging.String(logging.FieldEventType, "nohash_restored"),
			logging.Strings("entries", held.Names()),
		)
	}
	return nil
}

// Collect checks that every section reached the final stage and returns the
// final records in input order.
func (e *Engine) Collect(sections []MergedSection) ([]FinalSection, error) {
	finals := make([]FinalSection, 0, len(sections))
	var missing []string
	for _, m := range sections {
		path, err := e.FinalPath(m)
		if err != nil {
			return nil, services.Wrap(services.ErrIncomplete, "policy", "collect", m.Section.Name, err)
		}
		digest, err := fileutil.FileDigest(path)
		if err != nil {
			missing = append(missing, m.Section.Name)
			continue
		}
		finals = append(finals, FinalSection{Section: m.Section, Class: m.Class, Path: path, Digest: digest})
	}
	if len(missing) > 0 {
		return nil, services.Wrap(services.ErrIncomplete, "policy", "collect",
			fmt.Sprintf("sections without a final archive: %v", missing), nil)
	}
	return finals, nil
}
