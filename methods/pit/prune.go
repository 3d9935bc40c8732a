package pit

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/tensor"
)

// selectIndex copies the entries of t at positions idx along dim.
func selectIndex[B tensor.Backend](t *tensor.Tensor[B], dim int, idx []int) *tensor.Tensor[B] {
	shape := t.Shape()
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("pit: select dim %d out of range for shape %v", dim, shape))
	}
	outer := shape[:dim].NumElements()
	inner := shape[dim+1:].NumElements()
	src := t.Data()
	dst := make([]float32, 0, outer*len(idx)*inner)
	for o := 0; o < outer; o++ {
		for _, i := range idx {
			start := (o*shape[dim] + i) * inner
			dst = append(dst, src[start:start+inner]...)
		}
	}
	out := shape.Clone()
	out[dim] = len(idx)
	return tensor.MustFromSlice(dst, out, t.Backend())
}

// span returns [from, from+1, ..., to).
func span(from, to int) []int {
	idx := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		idx = append(idx, i)
	}
	return idx
}

// countOnes returns the number of non-zero entries.
func countOnes(data []float32) int {
	n := 0
	for _, v := range data {
		if v != 0 {
			n++
		}
	}
	return n
}
