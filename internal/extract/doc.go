// Package extract expands compressed inputs referenced by manifests.
//
// Recognized suffixes are .gz, .xz and .zst for single files and their tar
// variants (.tar.gz/.tgz, .tar.xz/.txz, .tar.zst/.tzst) for directories. An
// input expands beside itself under its name with the suffix removed.
package extract
