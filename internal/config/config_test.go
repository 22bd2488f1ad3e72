package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/gitsync/internal/manifest"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	content := `
_ver: 1
repo_dir: "/srv/dotfiles"
files:
  "/etc/hosts": "hosts"
dirs:
  "/home/user/.config/nvim": "config/nvim"
ignore:
  patterns: ["*.swp", "target"]
sync:
  prune: true
git:
  backend: go-git
  author_name: "Sync Bot"
  ssh_key_file: "/home/user/.ssh/key"
`
	cfg, err := Load(writeConfig(t, "settings.yaml", content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RepoDir != "/srv/dotfiles" {
		t.Errorf("expected repo_dir /srv/dotfiles, got %s", cfg.RepoDir)
	}
	if cfg.Files["/etc/hosts"] != "hosts" {
		t.Errorf("unexpected files mapping: %v", cfg.Files)
	}
	if cfg.Dirs["/home/user/.config/nvim"] != "config/nvim" {
		t.Errorf("unexpected dirs mapping: %v", cfg.Dirs)
	}
	if len(cfg.Ignore.Patterns) != 2 {
		t.Errorf("expected 2 ignore patterns, got %v", cfg.Ignore.Patterns)
	}
	if !cfg.Sync.Prune {
		t.Error("expected sync.prune to be true")
	}
	if cfg.Sync.CommitMessage != DefaultCommitMessage {
		t.Errorf("expected default commit message, got %q", cfg.Sync.CommitMessage)
	}
	if cfg.Git.Backend != BackendGoGit {
		t.Errorf("expected backend go-git, got %s", cfg.Git.Backend)
	}
	if cfg.Git.Remote != "origin" {
		t.Errorf("expected default remote origin, got %s", cfg.Git.Remote)
	}
	if cfg.AuthMethod() != "ssh" {
		t.Errorf("expected ssh auth, got %s", cfg.AuthMethod())
	}
}

func TestLoad_JSON(t *testing.T) {
	content := `{
    "repo_dir": "/srv/dotfiles",
    "files": {"/tmp/file.txt": "file.txt"},
    "dirs": {},
    "ignore": {"patterns": []},
    "_ver": 1
}`
	cfg, err := Load(writeConfig(t, "settings.json", content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("expected version 1, got %d", cfg.Version)
	}
	if cfg.Files["/tmp/file.txt"] != "file.txt" {
		t.Errorf("unexpected files mapping: %v", cfg.Files)
	}
	if cfg.Dirs == nil {
		t.Error("empty dirs mapping must be kept as present")
	}
	if cfg.Git.Backend != BackendShell {
		t.Errorf("expected default backend shell, got %s", cfg.Git.Backend)
	}
}

func TestLoad_MissingMappings(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantKey string
	}{
		{
			name:    "no files",
			content: `{"repo_dir": "/srv/r", "dirs": {}}`,
			wantKey: manifest.KeyFiles,
		},
		{
			name:    "no dirs",
			content: `{"repo_dir": "/srv/r", "files": {}}`,
			wantKey: manifest.KeyDirs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "settings.json", tt.content))
			var merr *manifest.Error
			if !errors.As(err, &merr) {
				t.Fatalf("expected *manifest.Error, got %v", err)
			}
			if merr.Key != tt.wantKey || merr.Origin != manifest.OriginConfig {
				t.Errorf("got %v, want key %q from config", merr, tt.wantKey)
			}
		})
	}
}

func TestLoad_RelativePathsMadeAbsolute(t *testing.T) {
	dir := t.TempDir()
	chdirForTest(t, dir)

	content := `{"repo_dir": "repo", "files": {"src/a.txt": "a.txt"}, "dirs": {"./conf": "conf"}}`
	cfg, err := Load(writeConfig(t, "settings.json", content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	wantRepo, _ := filepath.Abs("repo")
	if cfg.RepoDir != wantRepo {
		t.Errorf("repo_dir = %s, want %s", cfg.RepoDir, wantRepo)
	}
	wantSrc, _ := filepath.Abs("src/a.txt")
	if cfg.Files[wantSrc] != "a.txt" {
		t.Errorf("files = %v, want key %s", cfg.Files, wantSrc)
	}
	wantDir, _ := filepath.Abs("conf")
	if cfg.Dirs[wantDir] != "conf" {
		t.Errorf("dirs = %v, want key %s", cfg.Dirs, wantDir)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{name: "bad json", file: "s.json", content: `{"repo_dir": `, wantErr: "failed to parse"},
		{name: "bad yaml", file: "s.yaml", content: "files: [unclosed", wantErr: "failed to parse"},
		{name: "future version", file: "s.json", content: `{"_ver": 2, "repo_dir": "/r", "files": {}, "dirs": {}}`, wantErr: "newer than the supported version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Manifest: manifest.Manifest{
				Files: map[string]string{"/src/a": "a"},
				Dirs:  map[string]string{"/src/d": "sub/d"},
			},
			Version: 1,
			RepoDir: "/repo",
			Git:     GitConfig{Backend: BackendShell, Remote: "origin"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing repo_dir", mutate: func(c *Config) { c.RepoDir = "" }, wantErr: true},
		{name: "relative repo_dir", mutate: func(c *Config) { c.RepoDir = "repo" }, wantErr: true},
		{name: "future version", mutate: func(c *Config) { c.Version = 7 }, wantErr: true},
		{name: "nil files", mutate: func(c *Config) { c.Files = nil }, wantErr: true},
		{name: "absolute destination", mutate: func(c *Config) { c.Files["/src/a"] = "/etc/a" }, wantErr: true},
		{name: "escaping destination", mutate: func(c *Config) { c.Dirs["/src/d"] = "../outside" }, wantErr: true},
		{name: "root destination", mutate: func(c *Config) { c.Dirs["/src/d"] = "." }, wantErr: true},
		{name: "empty destination", mutate: func(c *Config) { c.Files["/src/a"] = "" }, wantErr: true},
		{name: "invalid ignore pattern", mutate: func(c *Config) { c.Ignore.Patterns = []string{"[oops"} }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Git.Backend = "libgit2" }, wantErr: true},
		{
			name: "both auth methods",
			mutate: func(c *Config) {
				c.Git.SSHKeyFile = "/key"
				c.Git.HTTPSTokenFile = "/token"
			},
			wantErr: true,
		},
		{name: "https token only", mutate: func(c *Config) { c.Git.HTTPSTokenFile = "/token" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Version != SupportedVersion {
		t.Errorf("expected version %d, got %d", SupportedVersion, cfg.Version)
	}
	if cfg.Sync.CommitMessage != DefaultCommitMessage {
		t.Errorf("expected default commit message, got %q", cfg.Sync.CommitMessage)
	}
	if cfg.Git.Backend != BackendShell {
		t.Errorf("expected backend shell, got %s", cfg.Git.Backend)
	}
	if cfg.Git.Remote != "origin" {
		t.Errorf("expected remote origin, got %s", cfg.Git.Remote)
	}

	custom := &Config{Sync: SyncConfig{CommitMessage: "custom"}, Git: GitConfig{Remote: "upstream"}}
	custom.applyDefaults()
	if custom.Sync.CommitMessage != "custom" || custom.Git.Remote != "upstream" {
		t.Error("applyDefaults must not override explicit values")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("GITSYNC_TEST_ROOT", "/data")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	cfg := &Config{
		Manifest: manifest.Manifest{
			Files: map[string]string{"$GITSYNC_TEST_ROOT/a.txt": "a.txt"},
			Dirs:  map[string]string{"~/.config/nvim": "nvim"},
		},
		RepoDir: "${GITSYNC_TEST_ROOT}/repo",
		Git:     GitConfig{SSHKeyFile: "~/.ssh/id_ed25519"},
	}
	cfg.expandEnv()

	if cfg.RepoDir != "/data/repo" {
		t.Errorf("RepoDir = %s", cfg.RepoDir)
	}
	if cfg.Files["/data/a.txt"] != "a.txt" {
		t.Errorf("Files = %v", cfg.Files)
	}
	if cfg.Dirs[filepath.Join(home, ".config/nvim")] != "nvim" {
		t.Errorf("Dirs = %v", cfg.Dirs)
	}
	if cfg.Git.SSHKeyFile != filepath.Join(home, ".ssh/id_ed25519") {
		t.Errorf("SSHKeyFile = %s", cfg.Git.SSHKeyFile)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/x/y", filepath.Join(home, "x/y")},
		{"~user/x", "~user/x"},
		{"/abs/~/x", "/abs/~/x"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaultAndSave(t *testing.T) {
	def := Default()
	if def.Version != SupportedVersion || def.Sync.CommitMessage != DefaultCommitMessage {
		t.Errorf("unexpected defaults: %+v", def)
	}

	for _, name := range []string{"settings_default.json", "settings_default.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := def.Save(path, false); err != nil {
				t.Fatalf("Save: %v", err)
			}

			if err := def.Save(path, false); err == nil {
				t.Error("expected error when file exists and overwrite is off")
			}
			if err := def.Save(path, true); err != nil {
				t.Errorf("Save with overwrite: %v", err)
			}

			// the sample points at a home-relative repo_dir which Load resolves
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load of saved default: %v", err)
			}
			if len(cfg.Files) != len(def.Files) || len(cfg.Dirs) != len(def.Dirs) {
				t.Errorf("round trip lost mappings: %+v", cfg.Manifest)
			}
			if strings.Join(cfg.Ignore.Patterns, ",") != strings.Join(def.Ignore.Patterns, ",") {
				t.Errorf("round trip lost ignore patterns: %v", cfg.Ignore.Patterns)
			}
		})
	}
}

// chdirForTest mirrors testing.T.Chdir (Go 1.24+) for older toolchains:
// it changes the working directory and restores it when the test ends.
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	oldPWD, hadPWD := os.LookupEnv("PWD")
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		t.Fatal(err)
	}
	os.Setenv("PWD", abs)
	t.Cleanup(func() {
		if err := os.Chdir(oldwd); err != nil {
			panic("testing: failed to restore working directory: " + err.Error())
		}
		if hadPWD {
			os.Setenv("PWD", oldPWD)
		} else {
			os.Unsetenv("PWD")
		}
	})
}
