package clip

import (
	"errors"
	"fmt"
)

var (
	ErrMissingPadToken = errors.New("clip: vocabulary has no " + PadToken + " pad token")
	ErrEmptyBatch      = errors.New("clip: empty batch")
)

// ImageDecodeError reports the candidate that could not be decoded so the
// caller can drop it and retry the rest.
type ImageDecodeError struct {
	Index int
	Err   error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("clip: decode image %d: %v", e.Index, e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }

type VocabularyError struct {
	Token string
}

func (e *VocabularyError) Error() string {
	return fmt.Sprintf("clip: token %q not in vocabulary", e.Token)
}

type SequenceTooLongError struct {
	Index  int
	Length int
	Max    int
}

func (e *SequenceTooLongError) Error() string {
	return fmt.Sprintf("clip: sequence %d has %d tokens, max is %d", e.Index, e.Length, e.Max)
}

type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("clip: load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

type ShapeMismatchError struct {
	What string
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("clip: %s mismatch: want %d, got %d", e.What, e.Want, e.Got)
}

// DegenerateEmbeddingError is returned for a zero or non-finite norm.
type DegenerateEmbeddingError struct {
	Index int
}

func (e *DegenerateEmbeddingError) Error() string {
	return fmt.Sprintf("clip: embedding %d has a degenerate norm", e.Index)
}
