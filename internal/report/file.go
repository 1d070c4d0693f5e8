// internal/report/file.go
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"mdt-discovery/internal/model"
)

// WriteFile encodes the result set and writes it to path atomically:
// temp file in the same directory, write, fsync, rename. A half-written
// document is never observable at the final path.
func WriteFile(path string, result *model.ScanResult, pretty bool) error {
	data, err := Encode(result, pretty)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	tmpF, err := os.CreateTemp(dir, "mdt-devices-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpF.Name()

	cleanup := func() {
		_ = tmpF.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmpF.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tmpF.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpF.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp -> final: %w", err)
	}

	return nil
}
