package clip

// Paths locates the downloaded model files.
type Paths struct {
	Vision    string
	Text      string
	Tokenizer string
}

type LoadOptions struct {
	ImageSize      int
	Dim            int
	MaxTokens      int
	IntraOpThreads int
}

// Load builds the process-wide Scorer from model files. It is meant to run
// once at startup; every failure is fatal to the caller.
func Load(paths Paths, opts LoadOptions) (*Scorer, error) {
	if opts.ImageSize <= 0 {
		opts.ImageSize = DefaultImageSize
	}
	if opts.Dim <= 0 {
		opts.Dim = DefaultEmbeddingDim
	}

	tokenizer, err := LoadTokenizer(paths.Tokenizer, opts.MaxTokens)
	if err != nil {
		return nil, &ModelLoadError{Path: paths.Tokenizer, Err: err}
	}
	if _, err := tokenizer.PadID(); err != nil {
		return nil, &ModelLoadError{Path: paths.Tokenizer, Err: err}
	}

	encoder, err := NewONNXEncoder(ONNXOptions{
		VisionPath:     paths.Vision,
		TextPath:       paths.Text,
		Dim:            opts.Dim,
		ImageSize:      opts.ImageSize,
		IntraOpThreads: opts.IntraOpThreads,
	})
	if err != nil {
		return nil, err
	}

	scorer, err := NewScorer(tokenizer, encoder, opts.ImageSize)
	if err != nil {
		encoder.Destroy()
		return nil, err
	}
	return scorer, nil
}
