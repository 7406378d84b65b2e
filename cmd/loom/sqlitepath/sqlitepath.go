// Package sqlitepath resolves the default on-disk database location
// shared by the loom CLI commands.
package sqlitepath

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveSQLitePath returns the database path to use. An explicit
// path wins; otherwise the default ~/.loom/loom.db is used, creating
// the directory if needed.
func ResolveSQLitePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	dir := filepath.Join(home, ".loom")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create %s: %w", dir, err)
	}

	return filepath.Join(dir, "loom.db"), nil
}
