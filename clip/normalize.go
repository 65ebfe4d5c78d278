package clip

import "math"

// Normalize returns a copy of e with every row scaled to unit L2 norm.
func Normalize(e *Embeddings) (*Embeddings, error) {
	if e == nil || e.N == 0 {
		return nil, ErrEmptyBatch
	}
	if len(e.Data) != e.N*e.Dim {
		return nil, &ShapeMismatchError{What: "embedding buffer size", Want: e.N * e.Dim, Got: len(e.Data)}
	}

	out := &Embeddings{N: e.N, Dim: e.Dim, Data: make([]float32, len(e.Data))}
	for i := 0; i < e.N; i++ {
		row := e.Row(i)
		var sum float64
		for _, v := range row {
			sum += float64(v) * float64(v)
		}
		norm := math.Sqrt(sum)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return nil, &DegenerateEmbeddingError{Index: i}
		}
		dst := out.Row(i)
		for j, v := range row {
			dst[j] = float32(float64(v) / norm)
		}
	}
	return out, nil
}
