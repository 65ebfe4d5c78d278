package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/krau/tinydata/config"
	"github.com/krau/tinydata/download"
	"github.com/krau/tinydata/search"
	"github.com/krau/tinydata/tui"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download images for each topic",
	Long: `Search images for every topic concurrently and save them under
<dir>/<topic>. With --filter, candidates are scored against the topic and
only the best ones at or above the threshold are kept.`,
	RunE: runFetch,
}

var (
	fetchTopics    []string
	fetchSamples   int
	fetchDir       string
	fetchFilter    bool
	fetchThreshold float32
	fetchWorkers   int
	fetchPlain     bool
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringSliceVarP(&fetchTopics, "topics", "t", nil, "Topics to download (comma separated or repeated)")
	fetchCmd.Flags().IntVarP(&fetchSamples, "nsamples", "n", 0, "Images to keep per topic (default from config)")
	fetchCmd.Flags().StringVarP(&fetchDir, "dir", "d", "", "Output directory (default from config)")
	fetchCmd.Flags().BoolVar(&fetchFilter, "filter", false, "Score candidates and keep only relevant ones")
	fetchCmd.Flags().Float32Var(&fetchThreshold, "threshold", -1, "Minimum relevance score (default from config)")
	fetchCmd.Flags().IntVar(&fetchWorkers, "workers", 0, "Topics processed in parallel (default from config)")
	fetchCmd.Flags().BoolVar(&fetchPlain, "plain", false, "Log progress instead of drawing progress bars")
	_ = fetchCmd.MarkFlagRequired("topics")
}

func runFetch(cmd *cobra.Command, args []string) error {
	topics := cleanTopics(fetchTopics)
	if len(topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}
	cfg := fetchConfig(config.C())

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	var scorer download.Scorer
	if fetchFilter {
		s, release, err := loadScorer(ctx, cfg)
		if err != nil {
			return err
		}
		defer release()
		scorer = s
	}

	fetcher := search.NewFetcher(search.NewSearXNG(cfg.SearchURL, cfg.SearchRate), search.FetcherOptions{
		Concurrency: cfg.DownloadConcurrency,
		Overfetch:   cfg.Overfetch,
		MaxBytes:    cfg.MaxImageBytes,
		Rate:        cfg.DownloadRate,
	})
	opts := download.Options{
		Dir:          cfg.Dir,
		NSamples:     cfg.NSamples,
		Filter:       fetchFilter,
		Threshold:    cfg.Threshold,
		Workers:      cfg.Workers,
		TopicTimeout: time.Duration(cfg.TopicTimeoutSecs) * time.Second,
	}

	var summary *download.Summary
	run := func(ctx context.Context, rep download.Reporter) error {
		m, err := download.NewManager(fetcher, scorer, rep, opts)
		if err != nil {
			return err
		}
		summary, err = m.Run(ctx, topics)
		return err
	}

	var err error
	if fetchPlain || !isTerminal(os.Stdout) {
		err = run(ctx, download.NewLogReporter())
	} else {
		if !verbose {
			// keep log lines from tearing the progress bars
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
		}
		err = tui.Run(ctx, os.Stdout, topics, func(ctx context.Context, r *tui.Reporter) error {
			return run(ctx, r)
		})
	}
	if summary != nil {
		slog.Info("Done",
			slog.Int("saved", summary.Saved),
			slog.Int("target", summary.Target),
			slog.Duration("elapsed", summary.Elapsed))
		fmt.Printf("Saved %d/%d images in %.1fs\n", summary.Saved, summary.Target, summary.Elapsed.Seconds())
	}
	return err
}

// fetchConfig applies command line overrides on top of the loaded config.
func fetchConfig(cfg config.Config) config.Config {
	if fetchSamples > 0 {
		cfg.NSamples = fetchSamples
	}
	if fetchDir != "" {
		cfg.Dir = fetchDir
	}
	if fetchThreshold >= 0 {
		cfg.Threshold = fetchThreshold
	}
	if fetchWorkers > 0 {
		cfg.Workers = fetchWorkers
	}
	return cfg
}

func cleanTopics(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func isTerminal(f *os.File) bool {
	st, err := f.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}
