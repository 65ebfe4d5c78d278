// Package search finds candidate images for a topic and downloads them
// into in-memory batches ready for scoring.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Candidate is one image search hit.
type Candidate struct {
	URL   string
	Title string
}

type Searcher interface {
	Search(ctx context.Context, topic string, n int) ([]Candidate, error)
}

const maxPages = 10

// SearXNG queries the JSON API of a SearXNG instance with the images category.
type SearXNG struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewSearXNG(baseURL string, perSecond float64) *SearXNG {
	return &SearXNG{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: newLimiter(perSecond),
	}
}

type searxngResponse struct {
	Results []struct {
		URL    string `json:"url"`
		ImgSrc string `json:"img_src"`
		Title  string `json:"title"`
	} `json:"results"`
}

// Search pages through results until n distinct image URLs are collected
// or a page brings nothing new.
func (s *SearXNG) Search(ctx context.Context, topic string, n int) ([]Candidate, error) {
	if n <= 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, n)
	out := make([]Candidate, 0, n)
	for page := 1; page <= maxPages && len(out) < n; page++ {
		resp, err := s.page(ctx, topic, page)
		if err != nil {
			if len(out) > 0 {
				break
			}
			return nil, err
		}
		added := 0
		for _, r := range resp.Results {
			src := r.ImgSrc
			if strings.HasPrefix(src, "//") {
				src = "https:" + src
			}
			if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
				continue
			}
			if _, dup := seen[src]; dup {
				continue
			}
			seen[src] = struct{}{}
			out = append(out, Candidate{URL: src, Title: r.Title})
			added++
			if len(out) == n {
				break
			}
		}
		if added == 0 {
			break
		}
	}
	return out, nil
}

func (s *SearXNG) page(ctx context.Context, topic string, page int) (*searxngResponse, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("q", topic)
	q.Set("categories", "images")
	q.Set("format", "json")
	q.Set("pageno", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var out searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &out, nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}
