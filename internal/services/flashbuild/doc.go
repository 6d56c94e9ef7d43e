// Package flashbuild wraps the partition-table compiler and image builder.
//
// The partitions file passed to compile-ptable holds one "name size" line per
// section; build-image takes the compiled table, the output image path and a
// -p name=path argument per section.
package flashbuild
