//go:build unix

package config

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// hostArch reports the machine name the way `uname -m` does (x86_64, ppc64le).
func hostArch() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return runtime.GOARCH
	}
	if machine := unix.ByteSliceToString(uts.Machine[:]); machine != "" {
		return machine
	}
	return runtime.GOARCH
}
