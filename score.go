package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/krau/tinydata/clip"
	"github.com/krau/tinydata/config"
	"github.com/krau/tinydata/download"
	"github.com/krau/tinydata/search"
	"github.com/spf13/cobra"
)

var scoreCmd = &cobra.Command{
	Use:   "score <topic> <file|dir>...",
	Short: "Score local images against a topic",
	Long: `Score image files (or every file in the given directories) against a
topic and print them from most to least relevant. With --remove-below the
files scoring under the threshold are deleted.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runScore,
}

var (
	scoreRemove    bool
	scoreThreshold float32
)

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().BoolVar(&scoreRemove, "remove-below", false, "Delete files scoring below the threshold")
	scoreCmd.Flags().Float32Var(&scoreThreshold, "threshold", -1, "Minimum relevance score (default from config)")
}

type fileScore struct {
	Path  string
	Score float32
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg := config.C()
	threshold := cfg.Threshold
	if scoreThreshold >= 0 {
		threshold = scoreThreshold
	}
	files, err := expandPaths(args[1:])
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files to score")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	scorer, release, err := loadScorer(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	scores, skipped, err := scoreFiles(ctx, scorer, args[0], files)
	if err != nil {
		return err
	}
	for _, path := range skipped {
		slog.Warn("Skipped undecodable file", slog.String("path", path))
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tFILE")
	for _, s := range scores {
		fmt.Fprintf(w, "%.4f\t%s\n", s.Score, s.Path)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if scoreRemove {
		removed, err := removeBelow(scores, threshold)
		slog.Info("Removed files below threshold", slog.Int("removed", removed), slog.Float64("threshold", float64(threshold)))
		return err
	}
	return nil
}

// scoreFiles scores files against topic, best first. Files that cannot be
// decoded are returned separately instead of failing the run.
func scoreFiles(ctx context.Context, scorer download.Scorer, topic string, files []string) ([]fileScore, []string, error) {
	images := make([]clip.RawImage, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		images = append(images, clip.RawImage{Data: data, Format: formatOfPath(path)})
	}

	var skipped []string
	for len(images) > 0 {
		scores, err := scorer.ScoreTopic(ctx, topic, images)
		var decodeErr *clip.ImageDecodeError
		if errors.As(err, &decodeErr) && decodeErr.Index >= 0 && decodeErr.Index < len(images) {
			i := decodeErr.Index
			skipped = append(skipped, files[i])
			files = slices.Delete(slices.Clone(files), i, i+1)
			images = slices.Delete(images, i, i+1)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		out := make([]fileScore, len(files))
		for i, path := range files {
			out[i] = fileScore{Path: path, Score: scores[i]}
		}
		slices.SortStableFunc(out, func(a, b fileScore) int {
			switch {
			case a.Score > b.Score:
				return -1
			case a.Score < b.Score:
				return 1
			}
			return 0
		})
		return out, skipped, nil
	}
	return nil, skipped, nil
}

func removeBelow(scores []fileScore, threshold float32) (int, error) {
	removed := 0
	var errs []error
	for _, s := range scores {
		if s.Score >= threshold {
			continue
		}
		if err := os.Remove(s.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// expandPaths replaces directories by the regular files they contain.
func expandPaths(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		st, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			out = append(out, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type().IsRegular() && formatOfPath(e.Name()) != "" {
				out = append(out, filepath.Join(arg, e.Name()))
			}
		}
	}
	return out, nil
}

func formatOfPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "jpg" {
		ext = "jpeg"
	}
	return search.FormatOf("image/" + ext)
}
