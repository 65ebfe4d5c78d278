package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/krau/tinydata/clip"
)

// byteScorer scores an image by its first byte and refuses empty images.
type byteScorer struct{}

func (byteScorer) ScoreTopic(_ context.Context, _ string, images []clip.RawImage) ([]float32, error) {
	out := make([]float32, len(images))
	for i, img := range images {
		if len(img.Data) == 0 {
			return nil, &clip.ImageDecodeError{Index: i, Err: errors.New("empty")}
		}
		out[i] = float32(img.Data[0]) / 100
	}
	return out, nil
}

func writeFiles(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScoreFilesSortsAndSkips(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string][]byte{
		"a.png": {10},
		"b.jpg": {},
		"c.png": {50},
		"d.png": {30},
	})
	files, err := expandPaths([]string{dir})
	if err != nil {
		t.Fatal(err)
	}

	scores, skipped, err := scoreFiles(context.Background(), byteScorer{}, "dogs", files)
	if err != nil {
		t.Fatalf("scoreFiles() error: %v", err)
	}
	var order []string
	for _, s := range scores {
		order = append(order, filepath.Base(s.Path))
	}
	if want := []string{"c.png", "d.png", "a.png"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if len(skipped) != 1 || filepath.Base(skipped[0]) != "b.jpg" {
		t.Errorf("skipped = %v", skipped)
	}
	if len(files) != 4 {
		t.Errorf("input slice modified: %v", files)
	}
}

func TestRemoveBelow(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string][]byte{"keep.png": {1}, "drop.png": {1}})
	scores := []fileScore{
		{Path: filepath.Join(dir, "keep.png"), Score: 0.2},
		{Path: filepath.Join(dir, "drop.png"), Score: 0.19},
	}

	removed, err := removeBelow(scores, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.png")); err != nil {
		t.Errorf("keep.png removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "drop.png")); !os.IsNotExist(err) {
		t.Errorf("drop.png still present")
	}
}

func TestExpandPathsSkipsNonImages(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string][]byte{"a.webp": {1}, "notes.txt": {1}, "b.JPG": {1}})

	got, err := expandPaths([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.webp"), filepath.Join(dir, "b.JPG")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expandPaths() = %v, want %v", got, want)
	}
	if _, err := expandPaths([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestCleanTopics(t *testing.T) {
	got := cleanTopics([]string{" dogs", "cats", "", "dogs", "red cars "})
	want := []string{"dogs", "cats", "red cars"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("cleanTopics() = %v, want %v", got, want)
	}
}

func TestFormatOfPath(t *testing.T) {
	tests := map[string]string{
		"x.jpg":  "jpeg",
		"x.JPEG": "jpeg",
		"x.png":  "png",
		"x.avif": "avif",
		"x.txt":  "",
		"x":      "",
	}
	for in, want := range tests {
		if got := formatOfPath(in); got != want {
			t.Errorf("formatOfPath(%q) = %q, want %q", in, got, want)
		}
	}
}
