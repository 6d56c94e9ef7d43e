// Package release manages the snapshot of pre-built binaries that backs the
// last step of path resolution.
//
// Fetch downloads a compressed tarball and unpacks it into the configured
// binaries directory, recording the source URL so later builds reuse it.
// Index maps the snapshot's files by basename.
package release
