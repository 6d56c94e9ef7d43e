// Package assemble builds the flash image from final section archives.
//
// The partition table is compiled from manifest section sizes, the image
// builder is called with one name=path pair per section in manifest order,
// the image is optionally replicated across sides with a golden image
// appended, and ECC is always injected last.
package assemble
