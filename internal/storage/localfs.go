package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"ceph":   {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// NetworkFilesystemError reports a path that must be on local disk but is not.
type NetworkFilesystemError struct {
	What   string
	Path   string
	FSType string
}

func (e *NetworkFilesystemError) Error() string {
	return fmt.Sprintf("%s %q is on network filesystem %q; flock is unreliable there, use a path on local disk", e.What, e.Path, e.FSType)
}

// CheckLocal fails with *NetworkFilesystemError when path, or its nearest
// existing parent, lives on a network filesystem. Checkout locks and the
// SQLite history both rely on flock(2). what names the path in errors,
// e.g. "state database".
func CheckLocal(path, what string) error {
	return checkLocal(path, what, filesystemType)
}

func checkLocal(path, what string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s path is empty", what)
	}

	existing, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve %s path %q: %w", what, path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}

	if isNetworkFilesystem(fsType) {
		return &NetworkFilesystemError{What: what, Path: path, FSType: fsType}
	}
	return nil
}

// nearestExistingPath walks up from path until something exists, so a
// checkouts directory can be vetted before its first clone creates it.
func nearestExistingPath(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", dir, err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		dir = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return found
}
