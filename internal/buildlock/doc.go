// Package buildlock keeps two builds from writing the same output directory.
package buildlock
