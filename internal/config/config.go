package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/gitsync/internal/ignore"
	"github.com/schaermu/gitsync/internal/manifest"
)

// SupportedVersion is the newest settings format this build understands.
const SupportedVersion = 1

// DefaultCommitMessage is used when sync.commit_message is empty.
const DefaultCommitMessage = "[(auto-git) leave it here for later editing]"

// Backend selects the git client implementation
type Backend string

const (
	BackendShell Backend = "shell"
	BackendGoGit Backend = "go-git"
)

// Config represents the complete gitsync configuration
type Config struct {
	manifest.Manifest `yaml:",inline"`

	Version int        `yaml:"_ver" json:"_ver"`
	RepoDir string     `yaml:"repo_dir" json:"repo_dir"`
	Sync    SyncConfig `yaml:"sync" json:"sync"`
	Git     GitConfig  `yaml:"git" json:"git"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	Prune         bool   `yaml:"prune" json:"prune"`
	CommitMessage string `yaml:"commit_message" json:"commit_message"`
}

// GitConfig configures the git client and its authentication
type GitConfig struct {
	Backend        Backend `yaml:"backend" json:"backend"`
	Remote         string  `yaml:"remote" json:"remote"`
	AuthorName     string  `yaml:"author_name,omitempty" json:"author_name,omitempty"`
	AuthorEmail    string  `yaml:"author_email,omitempty" json:"author_email,omitempty"`
	SSHKeyFile     string  `yaml:"ssh_key_file,omitempty" json:"ssh_key_file,omitempty"`
	HTTPSTokenFile string  `yaml:"https_token_file,omitempty" json:"https_token_file,omitempty"`
}

// Load reads and parses the configuration file. Files ending in .json are
// decoded as JSON, everything else as YAML.
func Load(path string) (*Config, error) {
	path = expandPath(os.ExpandEnv(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if isJSON(path) {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()

	if err := cfg.absolutize(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to path, as JSON or YAML depending on the
// extension. Existing files are only replaced when overwrite is set.
func (c *Config) Save(path string, overwrite bool) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(c, "", "    ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if isJSON(path) {
		data = append(data, '\n')
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}

// Default returns the sample configuration written by "gitsync init".
func Default() *Config {
	return &Config{
		Version: SupportedVersion,
		RepoDir: "~/dotfiles",
		Manifest: manifest.Manifest{
			Files: map[string]string{
				"/tmp/file.txt":  "file.txt",
				"/tmp/file2.txt": "folder/fileA.txt",
			},
			Dirs: map[string]string{
				"/home/user/your_dir":  "target_name",
				"/home/user/your_dir2": "folder/sub_folder",
			},
			Ignore: manifest.IgnoreConfig{
				Patterns: []string{"target", ".ivy", ".DS_Store"},
			},
		},
		Sync: SyncConfig{
			CommitMessage: DefaultCommitMessage,
		},
		Git: GitConfig{
			Backend: BackendShell,
			Remote:  "origin",
		},
	}
}

// expandEnv expands environment variables and a leading ~ in all paths
func (c *Config) expandEnv() {
	c.RepoDir = expandPath(os.ExpandEnv(c.RepoDir))
	c.Files = expandKeys(c.Files)
	c.Dirs = expandKeys(c.Dirs)
	c.Git.SSHKeyFile = expandPath(os.ExpandEnv(c.Git.SSHKeyFile))
	c.Git.HTTPSTokenFile = expandPath(os.ExpandEnv(c.Git.HTTPSTokenFile))
}

// absolutize makes repo_dir and every source path absolute, relative to the
// working directory.
func (c *Config) absolutize() error {
	if c.RepoDir != "" {
		abs, err := filepath.Abs(c.RepoDir)
		if err != nil {
			return fmt.Errorf("repo_dir: %w", err)
		}
		c.RepoDir = abs
	}

	for _, m := range []*map[string]string{&c.Files, &c.Dirs} {
		if *m == nil {
			continue
		}
		out := make(map[string]string, len(*m))
		for src, dst := range *m {
			abs, err := filepath.Abs(src)
			if err != nil {
				return fmt.Errorf("source %q: %w", src, err)
			}
			out[abs] = dst
		}
		*m = out
	}
	return nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = SupportedVersion
	}
	if c.Sync.CommitMessage == "" {
		c.Sync.CommitMessage = DefaultCommitMessage
	}
	if c.Git.Backend == "" {
		c.Git.Backend = BackendShell
	}
	if c.Git.Remote == "" {
		c.Git.Remote = "origin"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Version > SupportedVersion {
		return fmt.Errorf("_ver %d is newer than the supported version %d", c.Version, SupportedVersion)
	}

	if c.RepoDir == "" {
		return fmt.Errorf("repo_dir is required")
	}
	if !filepath.IsAbs(c.RepoDir) {
		return fmt.Errorf("repo_dir must be an absolute path: %s", c.RepoDir)
	}

	if err := c.Manifest.Validate(manifest.OriginConfig); err != nil {
		return err
	}

	for _, entry := range []struct {
		key     string
		mapping map[string]string
	}{{manifest.KeyFiles, c.Files}, {manifest.KeyDirs, c.Dirs}} {
		for src, dst := range entry.mapping {
			if err := validateDestination(dst); err != nil {
				return fmt.Errorf("%s: %s: %w", entry.key, src, err)
			}
		}
	}

	if err := ignore.Validate(c.Ignore.Patterns); err != nil {
		return fmt.Errorf("ignore.patterns: %w", err)
	}

	switch c.Git.Backend {
	case BackendShell, BackendGoGit:
		// valid
	default:
		return fmt.Errorf("invalid git.backend: %s (must be shell or go-git)", c.Git.Backend)
	}

	// Only one auth method may be configured
	if c.Git.SSHKeyFile != "" && c.Git.HTTPSTokenFile != "" {
		return fmt.Errorf("git: only one of ssh_key_file or https_token_file may be set")
	}

	return nil
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Git.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Git.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// validateDestination requires a relative path that stays inside repo_dir
// and names something below it.
func validateDestination(dst string) error {
	if dst == "" {
		return fmt.Errorf("destination is empty")
	}
	if !filepath.IsLocal(dst) {
		return fmt.Errorf("destination %q must be a relative path inside repo_dir", dst)
	}
	if filepath.Clean(dst) == "." {
		return fmt.Errorf("destination %q must name a path below repo_dir", dst)
	}
	return nil
}

func expandKeys(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[expandPath(os.ExpandEnv(k))] = v
	}
	return out
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
