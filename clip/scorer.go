package clip

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Scorer is the immutable model handle shared by all scoring calls.
type Scorer struct {
	tokenizer *Tokenizer
	encoder   Encoder
	imageSize int
}

func NewScorer(tokenizer *Tokenizer, encoder Encoder, imageSize int) (*Scorer, error) {
	if tokenizer == nil || encoder == nil {
		return nil, fmt.Errorf("clip: scorer needs a tokenizer and an encoder")
	}
	if imageSize <= 0 {
		return nil, fmt.Errorf("clip: invalid image size %d", imageSize)
	}
	if encoder.Dim() <= 0 {
		return nil, &ShapeMismatchError{What: "encoder dimension", Want: DefaultEmbeddingDim, Got: encoder.Dim()}
	}
	if _, err := tokenizer.PadID(); err != nil {
		return nil, err
	}
	return &Scorer{tokenizer: tokenizer, encoder: encoder, imageSize: imageSize}, nil
}

// Score returns the [len(images), len(topics)] cosine similarity matrix.
// The image and text towers run concurrently; any failure fails the call.
func (s *Scorer) Score(ctx context.Context, topics []string, images []RawImage) (*ScoreMatrix, error) {
	var imageEmb, textEmb *Embeddings

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		batch, err := Preprocess(images, s.imageSize)
		if err != nil {
			return err
		}
		emb, err := s.encoder.EncodeImages(gctx, batch)
		if err != nil {
			return fmt.Errorf("encode images: %w", err)
		}
		if err := s.checkShape("image embeddings", emb, batch.N); err != nil {
			return err
		}
		imageEmb, err = Normalize(emb)
		return err
	})
	g.Go(func() error {
		batch, _, err := s.tokenizer.Tokenize(topics)
		if err != nil {
			return err
		}
		emb, err := s.encoder.EncodeText(gctx, batch)
		if err != nil {
			return fmt.Errorf("encode text: %w", err)
		}
		if err := s.checkShape("text embeddings", emb, batch.N()); err != nil {
			return err
		}
		textEmb, err = Normalize(emb)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Score(imageEmb, textEmb)
}

// ScoreTopic scores images against one topic and returns one score per image.
func (s *Scorer) ScoreTopic(ctx context.Context, topic string, images []RawImage) ([]float32, error) {
	m, err := s.Score(ctx, []string{topic}, images)
	if err != nil {
		return nil, err
	}
	return m.Flatten(), nil
}

func (s *Scorer) checkShape(what string, emb *Embeddings, n int) error {
	if emb == nil || emb.N != n {
		got := 0
		if emb != nil {
			got = emb.N
		}
		return &ShapeMismatchError{What: what + " count", Want: n, Got: got}
	}
	if emb.Dim != s.encoder.Dim() {
		return &ShapeMismatchError{What: what + " dimension", Want: s.encoder.Dim(), Got: emb.Dim}
	}
	return nil
}

// Close releases the encoder's native resources, if it holds any.
func (s *Scorer) Close() {
	if d, ok := s.encoder.(interface{ Destroy() }); ok {
		d.Destroy()
	}
}
