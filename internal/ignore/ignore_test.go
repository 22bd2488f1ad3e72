package ignore

import (
	"reflect"
	"testing"
)

func TestMatch(t *testing.T) {
	m, err := New("target", ".ivy*", "*.log", "cache-?")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"target", true},
		{"/src/project/target", true},
		{".ivy2", true},
		{"build.log", true},
		{"/var/app/debug.log", true},
		{"cache-1", true},
		{"cache-10", false},
		{"targets", false},
		{"main.go", false},
		{"log", false},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			if got := m.Match(tc.path); got != tc.want {
				t.Errorf("Match(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestMatch_NilAndEmpty(t *testing.T) {
	var m *Matcher
	if m.Match("anything") {
		t.Error("nil matcher should match nothing")
	}

	empty, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if empty.Match(".git") {
		t.Error("empty matcher should match nothing")
	}
}

func TestWithDefaults(t *testing.T) {
	m, err := WithDefaults(".DS_Store")
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{".state", ".gitignore", ".git", ".DS_Store"} {
		if !m.Match(name) {
			t.Errorf("expected %q to be ignored", name)
		}
	}
	if m.Match("README.md") {
		t.Error("README.md should not be ignored")
	}
}

func TestDefaultPatterns_FreshSlice(t *testing.T) {
	first := DefaultPatterns()
	first[0] = "mutated"

	second := DefaultPatterns()
	want := []string{".state", ".gitignore", ".git"}
	if !reflect.DeepEqual(second, want) {
		t.Errorf("DefaultPatterns() = %v, want %v", second, want)
	}
}

func TestPatterns_DedupedAndSorted(t *testing.T) {
	m, err := New("b", "a", "", "b")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := m.Patterns(), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Patterns() = %v, want %v", got, want)
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	if _, err := New("[unterminated"); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
	if err := Validate([]string{"ok", "[bad"}); err == nil {
		t.Fatal("Validate should reject invalid pattern")
	}
}
