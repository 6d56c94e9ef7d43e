// Package layout names the directories and files a build writes.
//
// Section artifacts move through stage directories under <output>/gen:
// merged, then optionally signed, then final. held keeps entries excluded
// from hashing while the hash tool runs. Rebase is the only link between a
// section's paths in different stages.
package layout
