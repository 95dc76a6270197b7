package config

import "time"

// Config represents the complete deployhook configuration.
type Config struct {
	Service      ServiceConfig             `yaml:"service"`
	Server       ServerConfig              `yaml:"server"`
	State        StateConfig               `yaml:"state"`
	Checkouts    CheckoutsConfig           `yaml:"checkouts"`
	Repositories map[string]RepositoryConf `yaml:"repositories"`

	// SourcePath is the absolute path of the file the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// Debug includes diagnostic text in webhook responses. Off by default
	// because diagnostics reveal which repositories are configured.
	Debug bool `yaml:"debug"`
}

// ServerConfig defines the webhook listener.
type ServerConfig struct {
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	MaxBodySize string `yaml:"max_body_size"`

	// MaxBodyBytes is MaxBodySize parsed during Load.
	MaxBodyBytes int64 `yaml:"-"`
}

// StateConfig defines where deployment history is kept.
// An empty path disables history.
type StateConfig struct {
	Path string `yaml:"path"`
}

// CheckoutsConfig defines where local clones live.
type CheckoutsConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// RepositoryConf is the per-repository deployment entry, keyed by the
// repository full name (owner/name).
type RepositoryConf struct {
	// GitAddress is the remote the checkout is cloned from. Its scheme picks
	// which URL of the notification is compared against it.
	GitAddress string `yaml:"git_address"`

	// Secret is the shared webhook secret. Leaving it empty disables
	// signature verification for this repository.
	Secret string `yaml:"secret,omitempty"`

	ProdBranch string `yaml:"prod_branch"`

	// CheckoutDir overrides <checkouts.base_dir>/<owner>/<name>.
	CheckoutDir string `yaml:"checkout_dir,omitempty"`

	// SSHKey is a private key file used for SSH remotes.
	SSHKey string `yaml:"ssh_key,omitempty"`

	Build  []string `yaml:"build,omitempty"`
	Deploy []string `yaml:"deploy,omitempty"`

	// Timeout bounds each build/deploy invocation. Zero means no limit.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Settings are exported to build and deploy as WEBHOOK_* variables.
	Settings map[string]string `yaml:"settings,omitempty"`
}

// Default values
const (
	DefaultMaxBodySize = 1048576 // 1 MB
	DefaultListen      = "127.0.0.1:8000"
	DefaultPath        = "/"
	DefaultBaseDir     = "./.site-sources"
	DefaultStatePath   = "./data/deployhook.db"
)

// DefaultBuild and DefaultDeploy are the invocations used when a repository
// does not configure its own.
var (
	DefaultBuild  = []string{"make"}
	DefaultDeploy = []string{"make", "deploy"}
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "deployhook",
			LogLevel: "info",
		},
		Server: ServerConfig{
			Listen:       DefaultListen,
			Path:         DefaultPath,
			MaxBodyBytes: DefaultMaxBodySize,
		},
		State: StateConfig{
			Path: DefaultStatePath,
		},
		Checkouts: CheckoutsConfig{
			BaseDir: DefaultBaseDir,
		},
		Repositories: make(map[string]RepositoryConf),
	}
}
