// Package notifications publishes build completion and failure notices to
// ntfy. Without a configured topic every call is a no-op.
package notifications
