package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
repositories:
  owner/site:
    git_address: https://github.com/owner/site.git
    prod_branch: main
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config gets defaults",
			yaml: minimalYAML,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "deployhook", cfg.Service.Name)
				assert.Equal(t, "info", cfg.Service.LogLevel)
				assert.False(t, cfg.Service.Debug)
				assert.Equal(t, DefaultListen, cfg.Server.Listen)
				assert.Equal(t, DefaultPath, cfg.Server.Path)
				assert.Equal(t, int64(DefaultMaxBodySize), cfg.Server.MaxBodyBytes)
				assert.Equal(t, DefaultBaseDir, cfg.Checkouts.BaseDir)
				assert.Equal(t, "", cfg.State.Path)

				repo := cfg.Repositories["owner/site"]
				assert.Equal(t, []string{"make"}, repo.Build)
				assert.Equal(t, []string{"make", "deploy"}, repo.Deploy)
				assert.Empty(t, repo.Secret)
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: site-deployer
  log_level: DEBUG
  debug: true
server:
  listen: ":9000"
  path: /hooks/github
  max_body_size: 512KB
state:
  path: /var/lib/deployhook/state.db
checkouts:
  base_dir: /srv/checkouts
repositories:
  owner/site:
    git_address: git@github.com:owner/site.git
    secret: ${TEST_SITE_SECRET}
    prod_branch: production
    ssh_key: /etc/deployhook/id_ed25519
    build: [hugo, --minify]
    deploy: [rsync, -a, public/, /var/www/site]
    timeout: 10m
    settings:
      output_dir: /var/www/site
      site name: Example
`,
			env: map[string]string{"TEST_SITE_SECRET": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "site-deployer", cfg.Service.Name)
				assert.Equal(t, "debug", cfg.Service.LogLevel)
				assert.True(t, cfg.Service.Debug)
				assert.Equal(t, ":9000", cfg.Server.Listen)
				assert.Equal(t, "/hooks/github", cfg.Server.Path)
				assert.Equal(t, int64(512*1024), cfg.Server.MaxBodyBytes)
				assert.Equal(t, "/var/lib/deployhook/state.db", cfg.State.Path)

				repo := cfg.Repositories["owner/site"]
				assert.Equal(t, "s3cret", repo.Secret)
				assert.Equal(t, "production", repo.ProdBranch)
				assert.Equal(t, []string{"hugo", "--minify"}, repo.Build)
				assert.Equal(t, 10*time.Minute, repo.Timeout)
				assert.Equal(t, "Example", repo.Settings["site name"])
			},
		},
		{
			name:    "unset secret variable is rejected",
			yaml:    minimalYAML + "    secret: ${DEPLOYHOOK_TEST_UNSET_VAR}\n",
			wantErr: "environment variable ${DEPLOYHOOK_TEST_UNSET_VAR} is not set",
		},
		{
			name: "variable values are not read as YAML",
			yaml: "service:\n  debug: ${TEST_DEBUG}\n" + minimalYAML + "    secret: ${TEST_HASH_SECRET}\n    settings:\n      token: ${TEST_ANCHOR_VALUE}\n",
			env: map[string]string{
				"TEST_DEBUG":        "true",
				"TEST_HASH_SECRET":  "abc #def",
				"TEST_ANCHOR_VALUE": "*not-an-alias",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Service.Debug)
				repo := cfg.Repositories["owner/site"]
				assert.Equal(t, "abc #def", repo.Secret)
				assert.Equal(t, "*not-an-alias", repo.Settings["token"])
			},
		},
		{
			name: "null-looking secret stays a string",
			yaml: minimalYAML + "    secret: ${TEST_NULL_SECRET}\n",
			env:  map[string]string{"TEST_NULL_SECRET": "null"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "null", cfg.Repositories["owner/site"].Secret)
			},
		},
		{
			name:    "setting shadowing a built-in variable",
			yaml:    minimalYAML + "    settings:\n      checkout dir: /elsewhere\n",
			wantErr: "settings.checkout dir collides with built-in variable WEBHOOK_CHECKOUT_DIR",
		},
		{
			name:    "no repositories",
			yaml:    "service:\n  name: x\n",
			wantErr: "at least one repository",
		},
		{
			name: "missing git_address",
			yaml: `
repositories:
  owner/site:
    prod_branch: main
`,
			wantErr: "git_address is required",
		},
		{
			name: "missing prod_branch",
			yaml: `
repositories:
  owner/site:
    git_address: https://github.com/owner/site.git
`,
			wantErr: "prod_branch is required",
		},
		{
			name: "prod_branch given as ref",
			yaml: `
repositories:
  owner/site:
    git_address: https://github.com/owner/site.git
    prod_branch: refs/heads/main
`,
			wantErr: "must be a branch name",
		},
		{
			name: "bad repository name",
			yaml: `
repositories:
  site:
    git_address: https://github.com/owner/site.git
    prod_branch: main
`,
			wantErr: "owner/name",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: chatty\n" + minimalYAML,
			wantErr: "service.log_level",
		},
		{
			name:    "bad server path",
			yaml:    "server:\n  path: hooks\n" + minimalYAML,
			wantErr: "server.path",
		},
		{
			name:    "bad body size",
			yaml:    "server:\n  max_body_size: lots\n" + minimalYAML,
			wantErr: "server.max_body_size",
		},
		{
			name:    "invalid yaml",
			yaml:    "repositories: [\n",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, t.TempDir(), tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, path, cfg.SourcePath)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadAcceptsDirectory(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalYAML)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.SourcePath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "", want: DefaultMaxBodySize},
		{in: "2048", want: 2048},
		{in: "1kb", want: 1024},
		{in: "2MB", want: 2 * 1024 * 1024},
		{in: "1GB", want: 1024 * 1024 * 1024},
		{in: "0", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "MB", wantErr: true},
		{in: "9223372036854775807GB", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMaxBodySize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscoverConfigFileFromEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), minimalYAML)
	t.Setenv("DEPLOYHOOK_CONFIG", path)

	got, err := DiscoverConfigFile()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}
