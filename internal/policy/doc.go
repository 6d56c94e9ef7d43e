// Package policy moves sections from their merged archives to the final
// stage.
//
// Each section is classified as pre-signed, sign-and-hash, hash-only or
// as-is. Sign-and-hash sections gain a hash-list entry and pass through the
// signing tool and then the hashing tool; hash-only sections go straight to
// the hashing tool; as-is and pre-signed sections are copied. Entries matching
// a section's no-hash patterns are moved aside before hashing and restored
// into the final archive afterwards, byte for byte.
//
// The signing and hashing tools are called once per run with every section
// that needs them, never once per section.
package policy
