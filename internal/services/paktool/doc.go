// Package paktool adapts the external paktool binary to pak.Engine.
package paktool
