package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsPathAncestor(t *testing.T) {
	cases := []struct {
		root string
		path string
		want bool
	}{
		{"/allowed-root", "/allowed-root/file.txt", true},
		{"/allowed-root", "/allowed-root", true},
		{"/allowed-root", "/allowed-root/a/b/c", true},
		{"/allowed-root", "/allowed-root-evil/file.txt", false},
		{"/root", "/root2/file.txt", false},
		{"/root", "/root2", false},
		{"/a/b", "/a/b2/c", false},
		{"/a/b", "/a", false},
		{"", "/a", false},
		{"/a", "", false},
	}
	for _, tc := range cases {
		if got := isPathAncestor(tc.root, tc.path); got != tc.want {
			t.Errorf("isPathAncestor(%q, %q) = %v, want %v", tc.root, tc.path, got, tc.want)
		}
	}
}

func TestCanonicalizeNonexistentTarget(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "not-yet-written.txt")

	got := Canonicalize(p)
	if got == "" {
		t.Fatal("expected canonical path for nonexistent file")
	}
	if filepath.Base(got) != "not-yet-written.txt" {
		t.Fatalf("unexpected canonical path %q", got)
	}
}

func TestCanonicalizeResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	if err := os.MkdirAll(real, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	got := Canonicalize(filepath.Join(link, "file.txt"))
	want := Canonicalize(filepath.Join(real, "file.txt"))
	if got != want {
		t.Fatalf("Canonicalize through symlink = %q, want %q", got, want)
	}
}

func TestCanonicalizeRelative(t *testing.T) {
	got := Canonicalize("some/relative/../path")
	if !filepath.IsAbs(got) {
		t.Fatalf("expected absolute path, got %q", got)
	}
}
