// Package config loads, normalizes, and validates imgforge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// ECMD_ARCH and IMGFORGE_RELEASE_URL. The Config type centralizes the tool
// locations, directories and build defaults the CLI needs; the per-target
// image layout lives in the manifest instead.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
