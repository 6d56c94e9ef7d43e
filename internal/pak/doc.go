// Package pak implements the archive container used for image sections.
//
// An archive is an ordered set of uniquely named entries, each with its own
// compression method, stored in a zip container. Archive covers the entry
// operations the pipeline needs (add, find, remove, append, hash, hash list);
// Engine covers whole-archive create, open and merge so that merges can be
// handed to an external tool when configured.
package pak
