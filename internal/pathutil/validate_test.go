package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	base := t.TempDir()

	got, err := Resolve(base, filepath.Join("src", "..", "pom.xml"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := filepath.Join(base, "pom.xml"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	abs := filepath.Join(base, "missing", "File.java")
	if got, _ := Resolve("/elsewhere", abs); got != abs {
		t.Fatalf("absolute path should ignore base, got %s", got)
	}

	if err := os.WriteFile(filepath.Join(base, "real.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(filepath.Join(base, "real.txt"), filepath.Join(base, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	got, err = Resolve(base, "link.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := filepath.Join(base, "link.txt"); got != want {
		t.Fatalf("expected the link path %s, got %s", want, got)
	}
}

func TestResolveRejectsInvalidPaths(t *testing.T) {
	if _, err := Resolve("/", ""); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
	if _, err := Resolve("/", "src/\x00/App.java"); !errors.Is(err, ErrNullBytes) {
		t.Fatalf("expected ErrNullBytes, got %v", err)
	}
}

func TestWithin(t *testing.T) {
	sep := string(filepath.Separator)
	tests := []struct {
		path, dir string
		want      bool
	}{
		{sep + "p" + sep + "src", sep + "p" + sep + "src", true},
		{sep + "p" + sep + "src" + sep + "A.java", sep + "p" + sep + "src", true},
		{sep + "p" + sep + "srcx", sep + "p" + sep + "src", false},
		{sep + "p", sep + "p" + sep + "src", false},
		{sep + "p" + sep + "a", sep, true},
	}
	for _, tt := range tests {
		if got := Within(tt.path, tt.dir); got != tt.want {
			t.Errorf("Within(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
		}
	}
}
