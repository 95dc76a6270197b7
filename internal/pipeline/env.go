package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/deployhook/internal/config"
)

// EnvPrefix namespaces every exported build variable.
const EnvPrefix = "WEBHOOK_"

// Settings keys that are never exported, compared after normalization.
var hiddenKeys = map[string]bool{
	"SECRET":        true,
	"GITHUB_SECRET": true,
	"SSH_KEY":       true,
}

// BuildEnv returns the KEY=VALUE pairs handed to build and deploy for repo.
// Keys get spaces replaced by underscores, are upper-cased and prefixed with
// WEBHOOK_. Values of keys ending in _DIR are expanded to absolute paths.
// The secret and the SSH key path are never included.
func BuildEnv(repo config.Repository) ([]string, error) {
	vars := make(map[string]string, len(repo.Settings)+4)
	for key, value := range repo.Settings {
		k := NormalizeKey(key)
		if hiddenKeys[k] {
			continue
		}
		vars[k] = value
	}
	// Built-ins last: settings never shadow them.
	vars["FULL_NAME"] = repo.FullName
	vars["GIT_ADDRESS"] = repo.GitAddress
	vars["PROD_BRANCH"] = repo.ProdBranch
	vars["CHECKOUT_DIR"] = repo.CheckoutDir

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		value := vars[k]
		if strings.HasSuffix(k, "_DIR") && value != "" {
			abs, err := config.ExpandPath(value)
			if err != nil {
				return nil, fmt.Errorf("expand %s%s: %w", EnvPrefix, k, err)
			}
			value = abs
		}
		env = append(env, EnvPrefix+k+"="+value)
	}
	return env, nil
}

// NormalizeKey turns a settings key into its environment form.
func NormalizeKey(key string) string {
	return config.NormalizeSettingKey(key)
}
