// Package storage prepares the chunk output directory and reports how much
// room is left on it.
package storage

import (
	"fmt"
	"os"
)

// Prepare creates dir and any missing parents and checks it is a directory.
func Prepare(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to stat output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path %s is not a directory", dir)
	}
	return nil
}
