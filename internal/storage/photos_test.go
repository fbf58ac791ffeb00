package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveNamesAndPersists(t *testing.T) {
	store, err := NewPhotoStore(t.TempDir())
	if err != nil {
		t.Fatalf("new photo store: %v", err)
	}

	content := "fake jpeg bytes"
	path, err := store.Save("track.jpg", strings.NewReader(content))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	name := filepath.Base(path)
	if !strings.HasSuffix(name, "_track.jpg") {
		t.Fatalf("stored name should end with original filename, got %s", name)
	}

	datePrefix := time.Now().UTC().Format("20060102")
	if !strings.HasPrefix(name, datePrefix) {
		t.Fatalf("stored name should start with UTC timestamp, got %s", name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored photo: %v", err)
	}
	if string(data) != content {
		t.Fatalf("stored content mismatch: %q", data)
	}
}

func TestSaveCollisionResistance(t *testing.T) {
	store, err := NewPhotoStore(t.TempDir())
	if err != nil {
		t.Fatalf("new photo store: %v", err)
	}

	// Two uploads of the same name in the same second must not clobber
	// each other.
	p1, err := store.Save("photo.jpg", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	p2, err := store.Save("photo.jpg", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("save second: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("expected distinct stored paths, both were %s", p1)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"track.jpg", "track.jpg"},
		{"../../etc/passwd", "passwd"},
		{"..\\..\\evil.jpg", "evil.jpg"},
		{"my photo (1).jpg", "my_photo__1_.jpg"},
		{"..", "photo"},
		{"", "photo"},
	}

	for _, c := range cases {
		if got := SanitizeFilename(c.in); got != c.want {
			t.Fatalf("sanitize %q: expected %q, got %q", c.in, c.want, got)
		}
	}
}

func TestSanitizedNameStaysInDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPhotoStore(dir)
	if err != nil {
		t.Fatalf("new photo store: %v", err)
	}

	path, err := store.Save("../../outside.jpg", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("stored path escaped upload dir: %s", path)
	}
}
