// Package stager builds the merged archive of a section.
//
// Each run starts from an empty archive: literal entries are stored first,
// then the section's resolved sub-archives are merged in manifest order
// through the configured pak.Engine. Sections never share output files, so
// several sections may be staged concurrently.
package stager
