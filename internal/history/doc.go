// Package history records builds in a SQLite database.
//
// Each run stores its manifest, outcome, exit code and image digest, plus one
// row per section with the policy it took and the digest of its final
// archive. The CLI history command reads it back.
package history
