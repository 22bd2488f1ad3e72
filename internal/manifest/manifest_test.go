package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Manifest
		wantKey string
	}{
		{
			name: "both present",
			m:    Manifest{Files: map[string]string{}, Dirs: map[string]string{}},
		},
		{
			name:    "missing files",
			m:       Manifest{Dirs: map[string]string{}},
			wantKey: KeyFiles,
		},
		{
			name:    "missing dirs",
			m:       Manifest{Files: map[string]string{"/a": "a"}},
			wantKey: KeyDirs,
		},
		{
			name:    "missing both reports files first",
			m:       Manifest{},
			wantKey: KeyFiles,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.m.Validate(OriginConfig)
			if tc.wantKey == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
			var merr *Error
			if !errors.As(err, &merr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if merr.Key != tc.wantKey {
				t.Errorf("key = %q, want %q", merr.Key, tc.wantKey)
			}
			if merr.Origin != OriginConfig {
				t.Errorf("origin = %q, want %q", merr.Origin, OriginConfig)
			}
		})
	}
}

func TestError_NamesOrigin(t *testing.T) {
	err := Manifest{Files: map[string]string{}}.Validate(OriginState)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "state file") || !strings.Contains(err.Error(), `"dirs"`) {
		t.Errorf("error %q should name the state file and the dirs key", err)
	}
}

func TestPrior(t *testing.T) {
	none := NoPrior()
	if none.Present() {
		t.Error("NoPrior should not be present")
	}
	if _, ok := none.Manifest(); ok {
		t.Error("NoPrior should not carry a manifest")
	}

	m := Manifest{Files: map[string]string{"/a": "a.txt"}, Dirs: map[string]string{}}
	p := PriorOf(m)
	if !p.Present() {
		t.Fatal("PriorOf should be present")
	}
	got, ok := p.Manifest()
	if !ok || !reflect.DeepEqual(got, m) {
		t.Errorf("Manifest() = %+v, %v; want %+v, true", got, ok, m)
	}
}

func TestMatcher_IncludesDefaults(t *testing.T) {
	m := Manifest{Ignore: IgnoreConfig{Patterns: []string{"target"}}}
	matcher, err := m.Matcher()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"target", ".git", ".state", ".gitignore"} {
		if !matcher.Match(name) {
			t.Errorf("expected %q to be ignored", name)
		}
	}
}

func TestStore_NoPriorState(t *testing.T) {
	fs := memfs.New()
	if err := fs.MkdirAll("/repo", 0755); err != nil {
		t.Fatal(err)
	}

	exists, err := HasPriorState(fs, "/repo")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("expected no prior state")
	}

	prior, err := ReadPrior(fs, "/repo")
	if err != nil {
		t.Fatal(err)
	}
	if prior.Present() {
		t.Error("ReadPrior should return NoPrior on first run")
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	root := t.TempDir()
	fs := osfs.New("/")

	original := Manifest{
		Files:  map[string]string{"/tmp/file.txt": "file.txt", "/tmp/file2.txt": "folder/fileA.txt"},
		Dirs:   map[string]string{"/home/user/dir": "target_name"},
		Ignore: IgnoreConfig{Patterns: []string{".DS_Store"}},
	}

	if err := SaveState(fs, root, original); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	exists, err := HasPriorState(fs, root)
	if err != nil || !exists {
		t.Fatalf("HasPriorState = %v, %v; want true, nil", exists, err)
	}

	loaded, err := LoadPriorState(fs, root)
	if err != nil {
		t.Fatalf("LoadPriorState: %v", err)
	}
	if !reflect.DeepEqual(loaded, original) {
		t.Errorf("loaded %+v, want %+v", loaded, original)
	}

	// Only the marker file remains; the temp file was renamed away.
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != MarkerName {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	fs := memfs.New()
	if err := fs.MkdirAll("/repo", 0755); err != nil {
		t.Fatal(err)
	}

	first := Manifest{Files: map[string]string{"/a": "a"}, Dirs: map[string]string{}}
	second := Manifest{Files: map[string]string{}, Dirs: map[string]string{"/d": "d"}}

	if err := SaveState(fs, "/repo", first); err != nil {
		t.Fatal(err)
	}
	if err := SaveState(fs, "/repo", second); err != nil {
		t.Fatal(err)
	}

	prior, err := ReadPrior(fs, "/repo")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := prior.Manifest()
	if !ok {
		t.Fatal("expected prior state")
	}
	if len(got.Files) != 0 || got.Dirs["/d"] != "d" {
		t.Errorf("state not overwritten: %+v", got)
	}
}

func TestStore_MalformedState(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, MarkerName), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := ReadPrior(osfs.New("/"), root)
	if err == nil {
		t.Fatal("expected parse error for malformed state file")
	}
	if !strings.Contains(err.Error(), "parse state file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStore_MissingKeysLoadWithoutError(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, MarkerName), []byte(`{"files": {"/a": "a"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadPriorState(osfs.New("/"), root)
	if err != nil {
		t.Fatalf("LoadPriorState: %v", err)
	}
	if err := m.Validate(OriginState); !errors.Is(err, ErrMalformed) {
		t.Errorf("Validate = %v, want ErrMalformed", err)
	}
}
