//go:build !darwin && !linux

package storage

// Filesystem type detection is not available here; paths are assumed local.
func filesystemType(string) (string, error) {
	return "unknown", nil
}
