// Package download builds topic-labelled image folders: it fetches
// candidates per topic, keeps the most relevant ones and saves them.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/krau/tinydata/clip"
	"github.com/krau/tinydata/search"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const ManifestName = "manifest.yaml"

type Fetcher interface {
	Fetch(ctx context.Context, topic string, n int) (*search.Batch, error)
}

type Scorer interface {
	ScoreTopic(ctx context.Context, topic string, images []clip.RawImage) ([]float32, error)
}

type Options struct {
	Dir      string
	NSamples int
	// Filter enables relevance scoring. Without it the first NSamples
	// downloaded candidates are kept.
	Filter       bool
	Threshold    float32
	Workers      int
	TopicTimeout time.Duration
}

type Manager struct {
	fetcher  Fetcher
	scorer   Scorer
	reporter Reporter
	opts     Options
}

// NewManager wires the pipeline. scorer may be nil when Filter is off and
// reporter may be nil to disable progress reporting.
func NewManager(fetcher Fetcher, scorer Scorer, reporter Reporter, opts Options) (*Manager, error) {
	if fetcher == nil {
		return nil, errors.New("download: fetcher is required")
	}
	if opts.Filter && scorer == nil {
		return nil, errors.New("download: filtering needs a scorer")
	}
	if opts.NSamples <= 0 {
		return nil, fmt.Errorf("download: invalid sample count %d", opts.NSamples)
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Manager{fetcher: fetcher, scorer: scorer, reporter: reporter, opts: opts}, nil
}

type SavedImage struct {
	Path   string   `yaml:"path"`
	Source string   `yaml:"source"`
	Score  *float32 `yaml:"score,omitempty"`
}

type TopicResult struct {
	Topic      string       `yaml:"topic"`
	Dir        string       `yaml:"dir"`
	Candidates int          `yaml:"candidates"`
	Images     []SavedImage `yaml:"images"`
	Error      string       `yaml:"error,omitempty"`
}

type Summary struct {
	Topics    []TopicResult `yaml:"topics"`
	Saved     int           `yaml:"saved"`
	Target    int           `yaml:"target"`
	Filtered  bool          `yaml:"filtered"`
	Threshold float32       `yaml:"threshold,omitempty"`
	Elapsed   time.Duration `yaml:"elapsed"`
}

// Run processes every topic concurrently. A failing topic is recorded in
// the summary and never stops its siblings; the returned error only
// reports problems with the output directory or the manifest.
func (m *Manager) Run(ctx context.Context, topics []string) (*Summary, error) {
	start := time.Now()
	if err := os.MkdirAll(m.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	dirs := topicDirs(topics)
	results := make([]TopicResult, len(topics))
	var g errgroup.Group
	g.SetLimit(m.opts.Workers)
	for i, topic := range topics {
		g.Go(func() error {
			results[i] = m.runTopic(ctx, topic, dirs[i])
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{
		Topics:   results,
		Target:   m.opts.NSamples * len(topics),
		Filtered: m.opts.Filter,
		Elapsed:  time.Since(start).Round(time.Millisecond),
	}
	if m.opts.Filter {
		summary.Threshold = m.opts.Threshold
	}
	for _, r := range results {
		summary.Saved += len(r.Images)
	}

	if err := m.writeManifest(summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (m *Manager) runTopic(ctx context.Context, topic, name string) (result TopicResult) {
	result.Topic = topic
	result.Dir = name
	m.reporter.Start(topic, m.opts.NSamples)
	var err error
	defer func() {
		if err != nil {
			result.Error = err.Error()
		}
		m.reporter.Finish(topic, len(result.Images), err)
	}()

	if m.opts.TopicTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.TopicTimeout)
		defer cancel()
	}

	dir := filepath.Join(m.opts.Dir, name)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return result
	}

	var batch *search.Batch
	batch, err = m.fetcher.Fetch(ctx, topic, m.opts.NSamples)
	if err != nil {
		return result
	}
	result.Candidates = batch.Len()

	var keep []int
	var scores []float32
	if m.opts.Filter {
		batch, scores, err = m.score(ctx, batch)
		if err != nil {
			return result
		}
		keep = Select(scores, m.opts.NSamples, m.opts.Threshold)
	} else {
		for i := 0; i < batch.Len() && i < m.opts.NSamples; i++ {
			keep = append(keep, i)
		}
	}

	for n, idx := range keep {
		if err = ctx.Err(); err != nil {
			return result
		}
		img := batch.Images[idx]
		path := filepath.Join(dir, strconv.Itoa(n)+"."+extension(img.Format))
		if err = os.WriteFile(path, img.Data, 0o644); err != nil {
			err = fmt.Errorf("failed to save %s: %w", path, err)
			return result
		}
		saved := SavedImage{Path: path, Source: batch.Sources[idx]}
		if scores != nil {
			s := scores[idx]
			saved.Score = &s
		}
		result.Images = append(result.Images, saved)
		m.reporter.Advance(topic)
	}
	return result
}

// score rates the batch against its topic. A candidate that fails to
// decode is dropped and the rest are scored again.
func (m *Manager) score(ctx context.Context, batch *search.Batch) (*search.Batch, []float32, error) {
	for batch.Len() > 0 {
		scores, err := m.scorer.ScoreTopic(ctx, batch.Topic, batch.Images)
		if err == nil {
			return batch, scores, nil
		}
		var decodeErr *clip.ImageDecodeError
		if !errors.As(err, &decodeErr) || decodeErr.Index < 0 || decodeErr.Index >= batch.Len() {
			return nil, nil, err
		}
		slog.Warn("Dropping undecodable image",
			slog.String("topic", batch.Topic),
			slog.String("source", batch.Sources[decodeErr.Index]),
			slog.String("error", decodeErr.Error()))
		batch = batch.Without(decodeErr.Index)
	}
	return batch, nil, nil
}

func (m *Manager) writeManifest(s *Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	path := filepath.Join(m.opts.Dir, ManifestName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by Run.
func ReadManifest(dir string) (*Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &s, nil
}

var pathReplacer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "")

// topicDirs gives every topic its own folder name. Topics that sanitize to
// the same name, case-insensitively, get a numeric suffix.
func topicDirs(topics []string) []string {
	used := map[string]struct{}{strings.ToLower(ManifestName): {}}
	out := make([]string, len(topics))
	for i, topic := range topics {
		base := dirName(topic)
		name := base
		for n := 2; ; n++ {
			if _, taken := used[strings.ToLower(name)]; !taken {
				break
			}
			name = base + "-" + strconv.Itoa(n)
		}
		used[strings.ToLower(name)] = struct{}{}
		out[i] = name
	}
	return out
}

func dirName(topic string) string {
	name := strings.TrimSpace(pathReplacer.Replace(topic))
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

func extension(format string) string {
	switch format {
	case "jpeg", "":
		return "jpg"
	}
	return format
}
