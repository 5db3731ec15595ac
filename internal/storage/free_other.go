//go:build !(linux || darwin || freebsd)

package storage

import "errors"

func FreeBytes(dir string) (uint64, error) {
	return 0, errors.New("free space not supported on this platform")
}
