package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/krau/tinydata/clip"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Batch is the downloaded candidate set for one topic. Images and Sources
// are parallel and keep search order.
type Batch struct {
	Topic   string
	Images  []clip.RawImage
	Sources []string
}

func (b *Batch) Len() int { return len(b.Images) }

// Without returns a copy of the batch with candidate i removed.
func (b *Batch) Without(i int) *Batch {
	out := &Batch{
		Topic:   b.Topic,
		Images:  make([]clip.RawImage, 0, len(b.Images)-1),
		Sources: make([]string, 0, len(b.Sources)-1),
	}
	out.Images = append(append(out.Images, b.Images[:i]...), b.Images[i+1:]...)
	out.Sources = append(append(out.Sources, b.Sources[:i]...), b.Sources[i+1:]...)
	return out
}

type FetcherOptions struct {
	Concurrency int
	Overfetch   int
	MaxBytes    int64
	Rate        float64
	Client      *http.Client
}

// Fetcher turns search hits into image bytes.
type Fetcher struct {
	searcher    Searcher
	client      *http.Client
	limiter     *rate.Limiter
	concurrency int
	overfetch   int
	maxBytes    int64
}

func NewFetcher(searcher Searcher, opts FetcherOptions) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Overfetch <= 0 {
		opts.Overfetch = 1
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{
		searcher:    searcher,
		client:      opts.Client,
		limiter:     newLimiter(opts.Rate),
		concurrency: opts.Concurrency,
		overfetch:   opts.Overfetch,
		maxBytes:    opts.MaxBytes,
	}
}

// Fetch searches for n*overfetch candidates and downloads them. Failed
// downloads are dropped, so the batch may hold fewer than requested.
func (f *Fetcher) Fetch(ctx context.Context, topic string, n int) (*Batch, error) {
	candidates, err := f.searcher.Search(ctx, topic, n*f.overfetch)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", topic, err)
	}

	images := make([]*clip.RawImage, len(candidates))
	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			img, err := f.download(ctx, c.URL)
			if err != nil {
				slog.Debug("Dropping candidate", slog.String("topic", topic), slog.String("url", c.URL), slog.String("error", err.Error()))
				return nil
			}
			images[i] = img
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &Batch{Topic: topic}
	for i, img := range images {
		if img == nil {
			continue
		}
		batch.Images = append(batch.Images, *img)
		batch.Sources = append(batch.Sources, candidates[i].URL)
	}
	slog.Info("Fetched candidates", slog.String("topic", topic), slog.Int("found", len(candidates)), slog.Int("downloaded", batch.Len()))
	return batch, nil
}

func (f *Fetcher) download(ctx context.Context, url string) (*clip.RawImage, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("image larger than %d bytes", f.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	format := FormatOf(resp.Header.Get("Content-Type"))
	if format == "" {
		format = FormatOf(http.DetectContentType(data))
	}
	if format == "" {
		return nil, fmt.Errorf("not an image")
	}
	return &clip.RawImage{Data: data, Format: format}, nil
}

// FormatOf maps an image media type to its short format name, or "" when
// the type is not a supported image.
func FormatOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch strings.ToLower(mt) {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "jpeg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/avif":
		return "avif"
	case "image/bmp", "image/x-ms-bmp":
		return "bmp"
	}
	return ""
}
