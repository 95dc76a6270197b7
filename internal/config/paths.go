package config

import (
	"os"
	"path/filepath"
	"strings"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ExpandPath expands a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	return filepath.Abs(expandHome(path))
}
