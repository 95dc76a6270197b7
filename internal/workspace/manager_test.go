package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewManagerRejectsEmptyBase(t *testing.T) {
	t.Parallel()

	if _, err := NewManager("  "); err == nil {
		t.Fatal("expected error for empty base directory")
	}
}

func TestPathLayout(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	m, err := NewManager(base)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	got, err := m.Path("owner/site")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	want := filepath.Join(base, "owner", "site")
	if got != want {
		t.Fatalf("Path = %q, want %q", got, want)
	}
}

func TestValidateFullName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid", input: "owner/site"},
		{name: "valid with dots", input: "owner/site.github.io"},
		{name: "missing slash", input: "site", wantErr: true},
		{name: "extra segment", input: "owner/site/x", wantErr: true},
		{name: "dot dot owner", input: "../site", wantErr: true},
		{name: "dot name", input: "owner/.", wantErr: true},
		{name: "empty owner", input: "/site", wantErr: true},
		{name: "backslash", input: `owner/si\te`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFullName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateFullName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestPrepareParent(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "a", "b", "leaf")
	if err := PrepareParent(dir); err != nil {
		t.Fatalf("PrepareParent: %v", err)
	}
	info, err := os.Stat(filepath.Dir(dir))
	if err != nil || !info.IsDir() {
		t.Fatalf("parent not created: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("leaf should not exist, stat err = %v", err)
	}
}
