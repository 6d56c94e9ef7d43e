package policy

import "imgforge/internal/manifest"

// Class is the path a section takes from merged to final.
type Class string

const (
	PreSigned   Class = "pre-signed"
	SignAndHash Class = "sign-and-hash"
	HashOnly    Class = "hash-only"
	AsIs        Class = "as-is"
)

// Classify picks the policy for a section. With forceSign a pre-signed
// section is classified by its hashlist/imagehash flags like any other.
func Classify(section manifest.Section, forceSign bool) Class {
	switch {
	case section.SignedImage != "" && !forceSign:
		return PreSigned
	case section.HashList != "":
		return SignAndHash
	case section.ImageHash:
		return HashOnly
	default:
		return AsIs
	}
}

// Merges reports whether the class builds a merged archive.
func (c Class) Merges() bool { return c != PreSigned }

// Signs reports whether the class goes through the signing tool.
func (c Class) Signs() bool { return c == SignAndHash }

// Hashes reports whether the class goes through the hashing tool.
func (c Class) Hashes() bool { return c == SignAndHash || c == HashOnly }
