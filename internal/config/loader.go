package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/deployhook/internal/workspace"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, verifies and parses configuration from a file. A directory is
// accepted and must contain config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	// Refuse to parse a file that no longer matches its lock.
	if _, err := VerifyChecksums(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	return cfg, nil
}

// Parse decodes a YAML document, interpolates environment variables into
// its scalar values, applies defaults and validates. Interpolation happens
// after parsing, so variable values are never read as YAML syntax.
func Parse(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	var cfg Config
	if root.Kind != 0 {
		interpolateNode(&root)
		if err := root.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := applyConfigDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// DiscoverConfigFile finds the config file by checking standard locations.
// Priority order: $DEPLOYHOOK_CONFIG, ~/.config/deployhook/config.yaml,
// /etc/deployhook/config.yaml, ./config.yaml
func DiscoverConfigFile() (string, error) {
	if path := os.Getenv("DEPLOYHOOK_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "deployhook", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/deployhook/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $DEPLOYHOOK_CONFIG, ~/.config/deployhook, /etc/deployhook, ./config.yaml)")
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) error {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.Path == "" {
		cfg.Server.Path = defaults.Server.Path
	}

	maxBody, err := parseMaxBodySize(cfg.Server.MaxBodySize)
	if err != nil {
		return fmt.Errorf("server.max_body_size %q: %w", cfg.Server.MaxBodySize, err)
	}
	cfg.Server.MaxBodyBytes = maxBody

	if cfg.Checkouts.BaseDir == "" {
		cfg.Checkouts.BaseDir = defaults.Checkouts.BaseDir
	}

	if cfg.Repositories == nil {
		cfg.Repositories = make(map[string]RepositoryConf)
	}
	for name, repo := range cfg.Repositories {
		if len(repo.Build) == 0 {
			repo.Build = append([]string(nil), DefaultBuild...)
		}
		if len(repo.Deploy) == 0 {
			repo.Deploy = append([]string(nil), DefaultDeploy...)
		}
		cfg.Repositories[name] = repo
	}

	return nil
}

var yamlNulls = map[string]bool{"": true, "~": true, "null": true, "Null": true, "NULL": true}

// interpolateNode applies interpolateEnv to every scalar under n.
func interpolateNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		if v := interpolateEnv(n.Value); v != n.Value {
			n.Value = v
			// Re-resolve plain scalars so ${DEBUG} can still fill a bool, but
			// never let a value such as "null" erase a secret.
			if n.Style == 0 && !yamlNulls[v] {
				n.Tag = ""
			}
		}
	}
	for _, c := range n.Content {
		interpolateNode(c)
	}
}

// interpolateEnv replaces ${VAR} with the environment value. Unknown
// variables are left in place and rejected by validate.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if !strings.HasPrefix(cfg.Server.Path, "/") {
		return fmt.Errorf("server.path must start with / (got %q)", cfg.Server.Path)
	}

	if len(cfg.Repositories) == 0 {
		return fmt.Errorf("repositories: at least one repository must be configured")
	}

	names := make([]string, 0, len(cfg.Repositories))
	for name := range cfg.Repositories {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		repo := cfg.Repositories[name]

		if err := workspace.ValidateFullName(name); err != nil {
			return fmt.Errorf("repositories: %w", err)
		}
		if repo.GitAddress == "" {
			return fmt.Errorf("repository %q: git_address is required", name)
		}
		if repo.ProdBranch == "" {
			return fmt.Errorf("repository %q: prod_branch is required", name)
		}
		if strings.HasPrefix(repo.ProdBranch, "refs/") {
			return fmt.Errorf("repository %q: prod_branch must be a branch name, not a ref (got %q)", name, repo.ProdBranch)
		}
		if repo.Timeout < 0 {
			return fmt.Errorf("repository %q: timeout must not be negative", name)
		}
		if repo.Build[0] == "" || repo.Deploy[0] == "" {
			return fmt.Errorf("repository %q: build and deploy must name a program", name)
		}

		settingKeys := make([]string, 0, len(repo.Settings))
		for key := range repo.Settings {
			settingKeys = append(settingKeys, key)
		}
		sort.Strings(settingKeys)
		for _, key := range settingKeys {
			if IsReservedSetting(key) {
				return fmt.Errorf("repository %q: settings.%s collides with built-in variable WEBHOOK_%s", name, key, NormalizeSettingKey(key))
			}
		}

		// Unresolved placeholders would otherwise be used as literal secrets.
		fields := map[string]string{
			"git_address":  repo.GitAddress,
			"secret":       repo.Secret,
			"prod_branch":  repo.ProdBranch,
			"checkout_dir": repo.CheckoutDir,
			"ssh_key":      repo.SSHKey,
		}
		for key, value := range repo.Settings {
			fields["settings."+key] = value
		}
		if err := checkUnresolvedEnvVars(fields, name); err != nil {
			return err
		}
	}

	return nil
}

// checkUnresolvedEnvVars checks for ${VAR} placeholders in config values.
func checkUnresolvedEnvVars(fields map[string]string, repoName string) error {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if matches := envVarPattern.FindStringSubmatch(fields[key]); len(matches) > 1 {
			return fmt.Errorf("repository %q: %s: environment variable ${%s} is not set", repoName, key, matches[1])
		}
	}
	return nil
}

// parseMaxBodySize parses size strings like "1MB", "512KB", "1048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}

	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}

	return result, nil
}
