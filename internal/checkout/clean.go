package checkout

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// headTree maps every path in the HEAD tree (slash separated) to its mode.
// An unborn HEAD yields an empty map.
func headTree(repo *git.Repository) (map[string]filemode.FileMode, error) {
	entries := make(map[string]filemode.FileMode)

	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load HEAD tree: %w", err)
	}

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walk HEAD tree: %w", err)
		}
		entries[name] = entry.Mode
	}
	return entries, nil
}

// removeUntracked deletes everything under dir that is not in the HEAD tree,
// ignored files included. The .git directory is left alone.
func removeUntracked(repo *git.Repository, dir string) error {
	tracked, err := headTree(repo)
	if err != nil {
		return err
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == git.GitDirName {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		mode, ok := tracked[rel]
		if ok {
			switch {
			case mode == filemode.Submodule:
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			case (mode == filemode.Dir) == d.IsDir():
				return nil
			}
		}

		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove %s: %w", rel, err)
		}
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
}
