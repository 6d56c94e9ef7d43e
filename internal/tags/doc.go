// Package tags implements the placeholder vocabulary used by manifests.
//
// A tag is a literal token such as %gen% that is replaced by a computed path.
// Expansion is a pure function of the template and the table, and tag names
// must not be substrings of one another so that replacement order never
// matters.
package tags
