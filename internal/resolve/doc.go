// Package resolve turns manifest file references into concrete paths.
//
// A reference is tag-expanded and then looked up, in order, among the
// developer overrides (by basename), the expanded path on disk, and the
// release binaries snapshot (by basename). Compressed results are expanded
// beside themselves through the extract package.
package resolve
