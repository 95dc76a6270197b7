package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumsFile is the manifest written next to the config file by
// `deployhook config lock`.
const ChecksumsFile = ".checksums"

// ErrNoChecksums is returned by LoadChecksums when no manifest exists.
var ErrNoChecksums = errors.New("checksums file not found (run 'deployhook config lock')")

// ChecksumManifest maps config file base names to BLAKE3 hashes.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// LockConfig hashes the config file and writes (or updates) the .checksums
// manifest in its directory. When dryRun is true nothing is written.
func LockConfig(configPath string, dryRun bool) (*ChecksumManifest, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(absPath)

	manifest, err := LoadChecksums(dir)
	if errors.Is(err, ErrNoChecksums) {
		manifest = &ChecksumManifest{Version: 1, Hashes: make(map[string]string)}
	} else if err != nil {
		return nil, err
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", filepath.Base(absPath), err)
	}
	manifest.Hashes[filepath.Base(absPath)] = hash
	manifest.GeneratedAt = time.Now().UTC().Format(time.RFC3339)

	if dryRun {
		return manifest, nil
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}

	// Write with restrictive permissions (contains expected hashes)
	if err := os.WriteFile(filepath.Join(dir, ChecksumsFile), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}

	return manifest, nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoChecksums
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}

	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	if manifest.Hashes == nil {
		manifest.Hashes = make(map[string]string)
	}

	return &manifest, nil
}

// VerifyChecksums checks the config file against the manifest in its
// directory. It reports false without error when no manifest exists.
func VerifyChecksums(configPath string) (bool, error) {
	dir := filepath.Dir(configPath)
	manifest, err := LoadChecksums(dir)
	if errors.Is(err, ErrNoChecksums) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	basename := filepath.Base(configPath)
	expectedHash, ok := manifest.Hashes[basename]
	if !ok {
		return false, fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: deployhook config lock --config %s", basename, dir, configPath)
	}

	if err := VerifyFileHash(configPath, expectedHash); err != nil {
		return false, fmt.Errorf("config verification failed for %s: %w\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: deployhook config lock --config %s", configPath, err, configPath)
	}

	return true, nil
}
