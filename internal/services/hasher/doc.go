// Package hasher wraps the external hashing tool.
package hasher
