package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "notes.txt", "sub/c.webp"} {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ListImages(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.PNG"), filepath.Join(dir, "sub", "c.webp")}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}
}

func TestHelpers(t *testing.T) {
	if IsImageFile("scan.cr2") {
		t.Fatalf("raw files are not decodable")
	}
	if !IsHidden("/tmp/.upload-123.png") || IsHidden("/tmp/a.png") {
		t.Fatalf("IsHidden mismatch")
	}
	if got := ReplaceExt("in/photo.jpeg", ".pattern.json"); got != "in/photo.pattern.json" {
		t.Fatalf("ReplaceExt = %s", got)
	}
	p := filepath.Join(t.TempDir(), "x", "y", "out.json")
	if err := EnsureParent(p); err != nil {
		t.Fatalf("EnsureParent: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(p)); err != nil {
		t.Fatalf("parent missing: %v", err)
	}
}
