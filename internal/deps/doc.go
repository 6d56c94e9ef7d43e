// Package deps checks that the external image tools are installed.
package deps
