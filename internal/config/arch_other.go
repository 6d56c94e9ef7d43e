//go:build !unix

package config

import "runtime"

func hostArch() string {
	return runtime.GOARCH
}
