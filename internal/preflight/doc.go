// Package preflight provides readiness checks for the tools and filesystem
// paths a build depends on.
//
// The CLI "imgforge check" command runs RunAll and prints each result.
// Checks only report; they never create directories or invoke tools.
package preflight
