package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func searxngServer(t *testing.T, pages map[int][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("format") != "json" || q.Get("categories") != "images" {
			t.Errorf("unexpected query %v", q)
		}
		var page int
		fmt.Sscan(q.Get("pageno"), &page)
		type result struct {
			ImgSrc string `json:"img_src"`
			Title  string `json:"title"`
		}
		var out struct {
			Results []result `json:"results"`
		}
		for _, src := range pages[page] {
			out.Results = append(out.Results, result{ImgSrc: src, Title: q.Get("q")})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}))
}

func TestSearXNGSearchPagesUntilEnough(t *testing.T) {
	srv := searxngServer(t, map[int][]string{
		1: {"https://a/1.jpg", "https://a/2.jpg", "//a/3.jpg"},
		2: {"https://a/2.jpg", "data:image/png;base64,xx", "https://a/4.jpg", "https://a/5.jpg"},
	})
	defer srv.Close()

	got, err := NewSearXNG(srv.URL+"/", 0).Search(context.Background(), "dogs", 4)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	var urls []string
	for _, c := range got {
		urls = append(urls, c.URL)
	}
	want := []string{"https://a/1.jpg", "https://a/2.jpg", "https://a/3.jpg", "https://a/4.jpg"}
	if !reflect.DeepEqual(urls, want) {
		t.Errorf("urls = %v, want %v", urls, want)
	}
	if got[0].Title != "dogs" {
		t.Errorf("Title = %q, want dogs", got[0].Title)
	}
}

func TestSearXNGSearchStopsWhenExhausted(t *testing.T) {
	srv := searxngServer(t, map[int][]string{
		1: {"https://a/1.jpg"},
	})
	defer srv.Close()

	got, err := NewSearXNG(srv.URL, 0).Search(context.Background(), "cats", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestSearXNGSearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := NewSearXNG(srv.URL, 0).Search(context.Background(), "cats", 5); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
