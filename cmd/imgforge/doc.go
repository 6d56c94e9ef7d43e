// Command imgforge assembles firmware flash images.
//
// Subcommands:
//
//	build <manifest>    resolve, stage, sign, hash and assemble an image
//	plan <manifest>     show the resolved inputs and policy of every section
//	check [manifest]    verify tools, directories and free space
//	history [show id]   list recorded builds
//	config init|validate
//	test-notify         send a test ntfy notification
//
// The process exits 0 on success. When an external tool fails the exit code
// is the tool's own; every other failure exits 1.
package main
