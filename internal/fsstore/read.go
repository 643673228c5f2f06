package fsstore

import (
	"errors"
	"fmt"
	"os"
)

// ReadBytes returns the file contents and whether the file exists.
// A missing file is not an error.
func ReadBytes(path string) ([]byte, bool, error) {
	normalizedPath, err := normalizePath(path)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(normalizedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", normalizedPath, err)
	}
	return data, true, nil
}
