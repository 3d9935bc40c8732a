package cpu

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/tensor"
)

// Reshape returns a copy of t with a new shape of equal size.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if newShape.NumElements() != t.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v (%d elements) to %v", t.Shape(), t.NumElements(), newShape))
	}
	result := cpu.newRaw("reshape", newShape)
	copy(result.Data(), t.Data())
	return result
}

// Transpose permutes the dimensions of t. Without axes the order is reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	rank := len(shape)
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	if len(axes) != rank {
		panic(fmt.Sprintf("transpose: got %d axes for shape %v", len(axes), shape))
	}

	outShape := make(tensor.Shape, rank)
	seen := make([]bool, rank)
	for i, ax := range axes {
		if ax < 0 || ax >= rank || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid permutation %v for shape %v", axes, shape))
		}
		seen[ax] = true
		outShape[i] = shape[ax]
	}

	result := cpu.newRaw("transpose", outShape)
	inStrides := shape.ComputeStrides()
	// srcStrides[i] is the input stride of output dimension i.
	srcStrides := make([]int, rank)
	for i, ax := range axes {
		srcStrides[i] = inStrides[ax]
	}

	out, in := result.Data(), t.Data()
	index := make([]int, rank)
	off := 0
	for i := range out {
		out[i] = in[off]
		for d := rank - 1; d >= 0; d-- {
			index[d]++
			off += srcStrides[d]
			if index[d] < outShape[d] {
				break
			}
			off -= srcStrides[d] * index[d]
			index[d] = 0
		}
	}
	return result
}

// Expand broadcasts t to newShape following the broadcasting rules.
func (cpu *CPUBackend) Expand(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	target, _, err := tensor.BroadcastShapes(t.Shape(), newShape)
	if err != nil || !target.Equal(newShape) {
		panic(fmt.Sprintf("expand: cannot expand %v to %v", t.Shape(), newShape))
	}
	zeros := cpu.newRaw("expand", newShape)
	return cpu.Add(zeros, t)
}

// Cat concatenates tensors along dim. All other dimensions must match.
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}
	first := tensors[0].Shape()
	dim = first.NormalizeDim(dim)

	outShape := first.Clone()
	outShape[dim] = 0
	for _, t := range tensors {
		s := t.Shape()
		if len(s) != len(first) {
			panic(fmt.Sprintf("cat: rank mismatch %v vs %v", first, s))
		}
		for d := range s {
			if d != dim && s[d] != first[d] {
				panic(fmt.Sprintf("cat: shape mismatch %v vs %v at dimension %d", first, s, d))
			}
		}
		outShape[dim] += s[dim]
	}

	result := cpu.newRaw("cat", outShape)
	out := result.Data()
	outer := first[:dim].NumElements()
	inner := first[dim+1:].NumElements()
	rowOut := outShape[dim] * inner

	offset := 0
	for _, t := range tensors {
		chunk := t.Shape()[dim] * inner
		in := t.Data()
		for o := 0; o < outer; o++ {
			copy(out[o*rowOut+offset:o*rowOut+offset+chunk], in[o*chunk:(o+1)*chunk])
		}
		offset += chunk
	}
	return result
}
