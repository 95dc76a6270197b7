package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deployhook/internal/config"
)

func envMap(t *testing.T, env []string) map[string]string {
	t.Helper()
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		require.True(t, ok, "malformed entry %q", kv)
		m[k] = v
	}
	return m
}

func TestBuildEnv(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	cwd, err := os.Getwd()
	require.NoError(t, err)

	repo := config.Repository{
		FullName:    "owner/site",
		GitAddress:  "git@github.com:owner/site.git",
		Secret:      "top-secret",
		ProdBranch:  "main",
		CheckoutDir: "/srv/checkouts/owner/site",
		SSHKey:      "/home/deploy/.ssh/id_ed25519",
		Settings: map[string]string{
			"output dir":  "~/www/site",
			"cache_dir":   "cache",
			"site title":  "My Site",
			"base_url":    "https://example.com",
			"secret":      "also-hidden",
			"ssh key":     "/also/hidden",
			"dir_listing": "off",
		},
	}

	env, err := BuildEnv(repo)
	require.NoError(t, err)
	got := envMap(t, env)

	assert.Equal(t, map[string]string{
		"WEBHOOK_FULL_NAME":    "owner/site",
		"WEBHOOK_GIT_ADDRESS":  "git@github.com:owner/site.git",
		"WEBHOOK_PROD_BRANCH":  "main",
		"WEBHOOK_CHECKOUT_DIR": "/srv/checkouts/owner/site",
		"WEBHOOK_OUTPUT_DIR":   filepath.Join(home, "www", "site"),
		"WEBHOOK_CACHE_DIR":    filepath.Join(cwd, "cache"),
		"WEBHOOK_SITE_TITLE":   "My Site",
		"WEBHOOK_BASE_URL":     "https://example.com",
		"WEBHOOK_DIR_LISTING":  "off",
	}, got)

	for _, kv := range env {
		assert.NotContains(t, kv, "top-secret")
		assert.NotContains(t, kv, "id_ed25519")
	}
}

func TestBuildEnvIsSortedAndDoesNotTouchProcessEnv(t *testing.T) {
	repo := config.Repository{FullName: "owner/site", Settings: map[string]string{"zeta": "1", "alpha": "2"}}

	env, err := BuildEnv(repo)
	require.NoError(t, err)

	for i := 1; i < len(env); i++ {
		assert.Less(t, env[i-1], env[i])
	}
	_, set := os.LookupEnv("WEBHOOK_ALPHA")
	assert.False(t, set)
}

func TestBuildEnvBuiltinsWinOverSettings(t *testing.T) {
	repo := config.Repository{
		FullName:    "owner/site",
		GitAddress:  "https://github.com/owner/site.git",
		ProdBranch:  "main",
		CheckoutDir: "/srv/checkouts/owner/site",
		Settings: map[string]string{
			"checkout dir": "/elsewhere",
			"Full_Name":    "intruder/site",
			"prod branch":  "dev",
		},
	}

	env, err := BuildEnv(repo)
	require.NoError(t, err)
	got := envMap(t, env)

	assert.Equal(t, "/srv/checkouts/owner/site", got["WEBHOOK_CHECKOUT_DIR"])
	assert.Equal(t, "owner/site", got["WEBHOOK_FULL_NAME"])
	assert.Equal(t, "main", got["WEBHOOK_PROD_BRANCH"])
	assert.Len(t, env, 4)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "OUTPUT_DIR", NormalizeKey("output dir"))
	assert.Equal(t, "SITE_NAME", NormalizeKey(" Site Name "))
	assert.Equal(t, "A__B", NormalizeKey("a  b"))
}
