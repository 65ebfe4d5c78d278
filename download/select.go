package download

import (
	"cmp"
	"slices"
)

// Select returns the indices of at most k scores that reach threshold,
// best first. Equal scores keep their original order.
func Select(scores []float32, k int, threshold float32) []int {
	if k <= 0 {
		return nil
	}
	idx := make([]int, 0, len(scores))
	for i, s := range scores {
		if s >= threshold {
			idx = append(idx, i)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})
	if len(idx) > k {
		idx = idx[:k]
	}
	return idx
}
