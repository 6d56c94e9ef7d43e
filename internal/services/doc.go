// Package services defines shared utilities consumed by the pipeline stages
// and the clients for external image tools.
//
// Key responsibilities:
//   - Context helpers that stamp section names, stage names, and run
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     as configuration, resolution, external tool, or IO errors.
//   - ExitError, which carries an external tool's command line and exit code
//     so the CLI can surface the first fatal failure's status.
//
// Subpackages wrap each external collaborator (signing, hashing, flash image
// building, ECC injection, archive merging) behind the toolexec runner.
package services
