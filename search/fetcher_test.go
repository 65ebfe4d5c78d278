package search

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/krau/tinydata/clip"
)

type staticSearcher struct {
	candidates []Candidate
	err        error
	gotN       int
}

func (s *staticSearcher) Search(_ context.Context, _ string, n int) ([]Candidate, error) {
	s.gotN = n
	return s.candidates, s.err
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := pngBytes(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	})
	mux.HandleFunc("/sniffed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(img)
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/huge.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(make([]byte, 4096))
	})
	return httptest.NewServer(mux)
}

func TestFetcherDropsFailuresAndKeepsOrder(t *testing.T) {
	srv := imageServer(t)
	defer srv.Close()

	s := &staticSearcher{candidates: []Candidate{
		{URL: srv.URL + "/ok.png"},
		{URL: srv.URL + "/missing.png"},
		{URL: srv.URL + "/page.html"},
		{URL: srv.URL + "/huge.jpg"},
		{URL: srv.URL + "/sniffed"},
	}}
	f := NewFetcher(s, FetcherOptions{Concurrency: 3, Overfetch: 2, MaxBytes: 1024})

	batch, err := f.Fetch(context.Background(), "dogs", 3)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if s.gotN != 6 {
		t.Errorf("searched for %d candidates, want 6", s.gotN)
	}
	want := []string{srv.URL + "/ok.png", srv.URL + "/sniffed"}
	if !reflect.DeepEqual(batch.Sources, want) {
		t.Errorf("Sources = %v, want %v", batch.Sources, want)
	}
	for i, img := range batch.Images {
		if img.Format != "png" {
			t.Errorf("Images[%d].Format = %q, want png", i, img.Format)
		}
	}
}

func TestFetcherSearchError(t *testing.T) {
	f := NewFetcher(&staticSearcher{err: errors.New("boom")}, FetcherOptions{})
	if _, err := f.Fetch(context.Background(), "dogs", 3); err == nil {
		t.Fatal("expected search error")
	}
}

func TestFetcherCancelled(t *testing.T) {
	srv := imageServer(t)
	defer srv.Close()
	f := NewFetcher(&staticSearcher{candidates: []Candidate{{URL: srv.URL + "/ok.png"}}}, FetcherOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Fetch(ctx, "dogs", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestBatchWithout(t *testing.T) {
	b := &Batch{
		Topic:   "t",
		Images:  []clip.RawImage{{Format: "a"}, {Format: "b"}, {Format: "c"}},
		Sources: []string{"a", "b", "c"},
	}
	got := b.Without(1)
	if !reflect.DeepEqual(got.Sources, []string{"a", "c"}) {
		t.Errorf("Sources = %v", got.Sources)
	}
	if got.Images[1].Format != "c" {
		t.Errorf("Images[1] = %q, want c", got.Images[1].Format)
	}
	if b.Len() != 3 {
		t.Errorf("original batch modified")
	}
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"image/jpeg", "jpeg"},
		{"image/PNG; charset=binary", "png"},
		{"image/webp", "webp"},
		{"image/avif", "avif"},
		{"text/html; charset=utf-8", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FormatOf(tt.in); got != tt.want {
			t.Errorf("FormatOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
