package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager maps repository full names onto checkout directories below a
// single base directory: <base>/<owner>/<name>.
type Manager struct {
	baseDir string
}

// NewManager creates a checkout manager rooted at baseDir. Relative base
// directories are resolved against the working directory.
func NewManager(baseDir string) (*Manager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("checkout base directory is empty")
	}

	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve checkout base directory: %w", err)
	}

	return &Manager{baseDir: filepath.Clean(abs)}, nil
}

// BaseDir returns the absolute base directory.
func (m *Manager) BaseDir() string { return m.baseDir }

// Path returns the checkout directory for fullName.
func (m *Manager) Path(fullName string) (string, error) {
	if err := ValidateFullName(fullName); err != nil {
		return "", err
	}
	owner, name, _ := strings.Cut(fullName, "/")
	return filepath.Join(m.baseDir, owner, name), nil
}

// PrepareParent creates the parent directory of a checkout path so that a
// clone can create the leaf itself.
func PrepareParent(dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create checkout parent directory: %w", err)
	}
	return nil
}

// ValidateFullName checks that fullName is an "owner/name" pair that is safe
// to use as two path segments.
func ValidateFullName(fullName string) error {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok {
		return fmt.Errorf("repository name %q must have the form owner/name", fullName)
	}
	for _, seg := range []string{owner, name} {
		if err := validateSegment(seg); err != nil {
			return fmt.Errorf("repository name %q: %w", fullName, err)
		}
	}
	return nil
}

func validateSegment(seg string) error {
	if strings.TrimSpace(seg) == "" {
		return fmt.Errorf("empty path segment")
	}
	if seg == "." || seg == ".." {
		return fmt.Errorf("segment %q is invalid", seg)
	}
	if strings.Contains(seg, "/") || strings.Contains(seg, `\`) {
		return fmt.Errorf("segment %q must not contain path separators", seg)
	}
	if filepath.Clean(seg) != seg {
		return fmt.Errorf("segment %q is invalid", seg)
	}
	return nil
}
