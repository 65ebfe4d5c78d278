// Package clip scores how well candidate images match a topic label using a
// frozen CLIP-style dual encoder.
//
// The pipeline is Preprocess and Tokenize, then Encoder, then Normalize, then
// Score. A Scorer bundles the immutable model state and is safe to share
// across goroutines.
package clip

const (
	DefaultImageSize    = 224
	DefaultEmbeddingDim = 512
	DefaultMaxTokens    = 77

	StartToken = "<|startoftext|>"
	PadToken   = "<|endoftext|>"
)

// Per-channel normalization constants of the CLIP training distribution.
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// NormalizationStats returns copies of the per-channel mean and standard
// deviation Preprocess normalizes with.
func NormalizationStats() (mean, std [3]float32) {
	return clipMean, clipStd
}

// RawImage is an undecoded candidate image. Format is the declared format
// (for example "jpeg"); it may be empty.
type RawImage struct {
	Data   []byte
	Format string
}

// ImageBatch is a contiguous [N,3,Size,Size] float32 tensor, RGB channel order.
type ImageBatch struct {
	N    int
	Size int
	Data []float32
}

func (b *ImageBatch) Shape() []int64 {
	return []int64{int64(b.N), 3, int64(b.Size), int64(b.Size)}
}

// Image returns the CHW slice of image i. It aliases the batch buffer.
func (b *ImageBatch) Image(i int) []float32 {
	n := 3 * b.Size * b.Size
	return b.Data[i*n : (i+1)*n]
}

// TokenBatch holds right-padded token id sequences. Every row has length
// SeqLen; Lengths keeps the unpadded token count of each row.
type TokenBatch struct {
	IDs     [][]int64
	Lengths []int
	PadID   int64
}

func (b *TokenBatch) N() int { return len(b.IDs) }

func (b *TokenBatch) SeqLen() int {
	if len(b.IDs) == 0 {
		return 0
	}
	return len(b.IDs[0])
}

// Flat returns the ids as one row-major [N, SeqLen] buffer.
func (b *TokenBatch) Flat() []int64 {
	out := make([]int64, 0, b.N()*b.SeqLen())
	for _, row := range b.IDs {
		out = append(out, row...)
	}
	return out
}

// Mask returns the row-major attention mask: 1 for real tokens, 0 for padding.
func (b *TokenBatch) Mask() []int64 {
	seq := b.SeqLen()
	out := make([]int64, b.N()*seq)
	for i, n := range b.Lengths {
		for j := 0; j < n; j++ {
			out[i*seq+j] = 1
		}
	}
	return out
}

// Embeddings is a row-major [N, Dim] batch of embedding vectors.
type Embeddings struct {
	N    int
	Dim  int
	Data []float32
}

func (e *Embeddings) Row(i int) []float32 {
	return e.Data[i*e.Dim : (i+1)*e.Dim]
}

// NewEmbeddings copies rows into a batch. All rows must share one length.
func NewEmbeddings(rows [][]float32) (*Embeddings, error) {
	if len(rows) == 0 {
		return &Embeddings{}, nil
	}
	dim := len(rows[0])
	e := &Embeddings{N: len(rows), Dim: dim, Data: make([]float32, 0, len(rows)*dim)}
	for _, r := range rows {
		if len(r) != dim {
			return nil, &ShapeMismatchError{What: "embedding width", Want: dim, Got: len(r)}
		}
		e.Data = append(e.Data, r...)
	}
	return e, nil
}
