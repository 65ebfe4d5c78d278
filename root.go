package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"

	"github.com/joho/godotenv"
	"github.com/krau/tinydata/clip"
	"github.com/krau/tinydata/config"
	"github.com/krau/tinydata/hub"
	"github.com/krau/tinydata/onnx"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "tinydata",
	Short: "Build small topic-labelled image datasets",
	Long: `tinydata searches the web for images of each topic, scores them
against the topic with a CLIP model and keeps the most relevant ones.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadScorer prepares ONNX Runtime, resolves the model files and builds the
// shared scorer. The returned func releases everything.
func loadScorer(ctx context.Context, cfg config.Config) (*clip.Scorer, func(), error) {
	if err := onnx.Init(cfg.Libonnx); err != nil {
		return nil, nil, err
	}

	paths, err := hub.Fetch(ctx, hub.Options{
		Repo:          cfg.ModelRepo,
		Revision:      cfg.ModelRevision,
		Token:         cfg.HFToken,
		LocalDir:      cfg.ModelDir,
		VisionFile:    cfg.VisionModelFile,
		TextFile:      cfg.TextModelFile,
		TokenizerFile: cfg.TokenizerFile,
	})
	if err != nil {
		onnx.Destroy()
		return nil, nil, fmt.Errorf("failed to fetch model: %w", err)
	}

	scorer, err := clip.Load(paths, clip.LoadOptions{
		ImageSize:      cfg.ImageSize,
		Dim:            cfg.EmbeddingDim,
		MaxTokens:      cfg.MaxTokens,
		IntraOpThreads: cfg.IntraOpThreads,
	})
	if err != nil {
		onnx.Destroy()
		return nil, nil, err
	}
	slog.Info("Model loaded", slog.String("repo", cfg.ModelRepo), slog.String("vision", paths.Vision))
	return scorer, func() {
		scorer.Close()
		onnx.Destroy()
	}, nil
}

func listenAddr(cfg config.Config) string {
	return net.JoinHostPort(cfg.Host, cfg.Port)
}
