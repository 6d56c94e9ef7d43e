// Package signer wraps the external signing tool. Sections are signed in a
// single batched call; outputs are matched back to sections by name.
package signer
