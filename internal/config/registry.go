package config

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/deployhook/internal/workspace"
)

// Repository is the resolved deployment configuration of one repository.
type Repository struct {
	FullName    string
	GitAddress  string
	Secret      string
	ProdBranch  string
	CheckoutDir string
	SSHKey      string
	Build       []string
	Deploy      []string
	Timeout     time.Duration
	Settings    map[string]string
}

// UsesHTTPS reports whether the configured remote is an http(s) URL, in
// which case notifications are matched on clone_url instead of ssh_url.
func (r Repository) UsesHTTPS() bool {
	return strings.HasPrefix(r.GitAddress, "http")
}

// HasSecret reports whether signature verification is enabled.
func (r Repository) HasSecret() bool {
	return r.Secret != ""
}

// BranchRef returns the fully qualified ref of the production branch.
func (r Repository) BranchRef() string {
	return "refs/heads/" + r.ProdBranch
}

func (r Repository) clone() Repository {
	r.Build = slices.Clone(r.Build)
	r.Deploy = slices.Clone(r.Deploy)
	r.Settings = maps.Clone(r.Settings)
	return r
}

// Registry is an immutable lookup table from repository full name to its
// deployment configuration.
type Registry struct {
	repos map[string]Repository
}

// NewRegistry resolves checkout directories and freezes the repository table.
func NewRegistry(cfg *Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	ws, err := workspace.NewManager(cfg.Checkouts.BaseDir)
	if err != nil {
		return nil, err
	}

	repos := make(map[string]Repository, len(cfg.Repositories))
	seenDirs := make(map[string]string, len(cfg.Repositories))

	for name, rc := range cfg.Repositories {
		dir := rc.CheckoutDir
		if dir == "" {
			dir, err = ws.Path(name)
			if err != nil {
				return nil, err
			}
		} else {
			dir, err = filepath.Abs(expandHome(dir))
			if err != nil {
				return nil, fmt.Errorf("repository %q: resolve checkout_dir: %w", name, err)
			}
		}

		if other, dup := seenDirs[dir]; dup {
			return nil, fmt.Errorf("repositories %q and %q share checkout directory %s", other, name, dir)
		}
		seenDirs[dir] = name

		build := rc.Build
		if len(build) == 0 {
			build = DefaultBuild
		}
		deploy := rc.Deploy
		if len(deploy) == 0 {
			deploy = DefaultDeploy
		}

		repos[name] = Repository{
			FullName:    name,
			GitAddress:  rc.GitAddress,
			Secret:      rc.Secret,
			ProdBranch:  rc.ProdBranch,
			CheckoutDir: dir,
			SSHKey:      expandHome(rc.SSHKey),
			Build:       slices.Clone(build),
			Deploy:      slices.Clone(deploy),
			Timeout:     rc.Timeout,
			Settings:    maps.Clone(rc.Settings),
		}
	}

	return &Registry{repos: repos}, nil
}

// Resolve returns a copy of the configuration for fullName.
func (r *Registry) Resolve(fullName string) (Repository, bool) {
	repo, ok := r.repos[fullName]
	if !ok {
		return Repository{}, false
	}
	return repo.clone(), true
}

// Names returns the configured repository names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.repos))
	for name := range r.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
