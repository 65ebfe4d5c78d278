// Package hub resolves the CLIP model files, downloading them from the
// Hugging Face Hub when they are not already present locally.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	hfhub "github.com/gomlx/go-huggingface/hub"
	"github.com/krau/tinydata/clip"
)

var ErrNoRepo = errors.New("hub: model files missing and no repository configured")

type Options struct {
	Repo     string
	Revision string
	Token    string
	// LocalDir is checked first; when every file exists there nothing is
	// downloaded. It doubles as the download cache.
	LocalDir string

	VisionFile    string
	TextFile      string
	TokenizerFile string
}

func (o Options) files() []string {
	return []string{o.VisionFile, o.TextFile, o.TokenizerFile}
}

// Fetch returns local paths to the vision tower, text tower and tokenizer.
func Fetch(ctx context.Context, opts Options) (clip.Paths, error) {
	for _, f := range opts.files() {
		if f == "" {
			return clip.Paths{}, fmt.Errorf("hub: model file names must be set")
		}
	}

	if paths, ok := local(opts); ok {
		slog.Info("Using local model files", slog.String("dir", opts.LocalDir))
		return paths, nil
	}
	if opts.Repo == "" {
		return clip.Paths{}, ErrNoRepo
	}

	repo := hfhub.New(opts.Repo).WithAuth(opts.Token)
	if opts.Revision != "" {
		repo = repo.WithRevision(opts.Revision)
	}
	if opts.LocalDir != "" {
		repo = repo.WithCacheDir(filepath.Join(opts.LocalDir, ".cache"))
	}

	downloaded := make([]string, 0, 3)
	for _, name := range opts.files() {
		if err := ctx.Err(); err != nil {
			return clip.Paths{}, err
		}
		slog.Info("Downloading model file", slog.String("repo", opts.Repo), slog.String("file", name))
		path, err := repo.DownloadFile(name)
		if err != nil {
			return clip.Paths{}, fmt.Errorf("failed to download %s from %s: %w", name, opts.Repo, err)
		}
		downloaded = append(downloaded, path)
	}
	return clip.Paths{Vision: downloaded[0], Text: downloaded[1], Tokenizer: downloaded[2]}, nil
}

func local(opts Options) (clip.Paths, bool) {
	if opts.LocalDir == "" {
		return clip.Paths{}, false
	}
	paths := clip.Paths{
		Vision:    filepath.Join(opts.LocalDir, filepath.FromSlash(opts.VisionFile)),
		Text:      filepath.Join(opts.LocalDir, filepath.FromSlash(opts.TextFile)),
		Tokenizer: filepath.Join(opts.LocalDir, filepath.FromSlash(opts.TokenizerFile)),
	}
	for _, p := range []string{paths.Vision, paths.Text, paths.Tokenizer} {
		if st, err := os.Stat(p); err != nil || st.IsDir() {
			return clip.Paths{}, false
		}
	}
	return paths, true
}
