package clip

import "sort"

// ScoreMatrix holds the cosine similarity of every image against every
// text, row-major [images, texts]. It is never modified after Score.
type ScoreMatrix struct {
	rows int
	cols int
	data []float32
}

// Ranked is one candidate of a ranking.
type Ranked struct {
	Index int
	Score float32
}

// Score multiplies normalized image embeddings by the transpose of the
// normalized text embeddings.
func Score(images, texts *Embeddings) (*ScoreMatrix, error) {
	if images == nil || texts == nil || images.N == 0 || texts.N == 0 {
		return nil, ErrEmptyBatch
	}
	if images.Dim != texts.Dim {
		return nil, &ShapeMismatchError{What: "embedding dimension", Want: images.Dim, Got: texts.Dim}
	}

	m := &ScoreMatrix{rows: images.N, cols: texts.N, data: make([]float32, images.N*texts.N)}
	for i := 0; i < images.N; i++ {
		img := images.Row(i)
		for j := 0; j < texts.N; j++ {
			txt := texts.Row(j)
			var dot float32
			for k := range img {
				dot += img[k] * txt[k]
			}
			// rounding can push unit vectors slightly past 1
			m.data[i*m.cols+j] = min(max(dot, -1), 1)
		}
	}
	return m, nil
}

func (m *ScoreMatrix) Rows() int { return m.rows }
func (m *ScoreMatrix) Cols() int { return m.cols }

func (m *ScoreMatrix) At(image, text int) float32 {
	return m.data[image*m.cols+text]
}

func (m *ScoreMatrix) Row(image int) []float32 {
	out := make([]float32, m.cols)
	copy(out, m.data[image*m.cols:(image+1)*m.cols])
	return out
}

func (m *ScoreMatrix) Column(text int) []float32 {
	out := make([]float32, m.rows)
	for i := range out {
		out[i] = m.data[i*m.cols+text]
	}
	return out
}

// Flatten returns every cell in row-major order. With a single text this
// is the per-image score vector.
func (m *ScoreMatrix) Flatten() []float32 {
	out := make([]float32, len(m.data))
	copy(out, m.data)
	return out
}

// Ranked orders the images by descending score against text; ties keep
// input order.
func (m *ScoreMatrix) Ranked(text int) []Ranked {
	out := make([]Ranked, m.rows)
	for i := range out {
		out[i] = Ranked{Index: i, Score: m.At(i, text)}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	return out
}
