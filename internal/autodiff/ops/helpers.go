package ops

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/tensor"
)

// reduceBroadcast reduces a gradient tensor to match the target shape.
// This is necessary when broadcasting was used in the forward pass.
//
// Example:
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]  (a was broadcast along dim 1)
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	gradShape := grad.Shape()
	if gradShape.Equal(targetShape) {
		return grad
	}
	if targetShape.NumElements() == 1 {
		return backend.Reshape(backend.Sum(grad), targetShape)
	}

	result := grad
	// Leading dimensions that the target does not have.
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}
	for i, d := range targetShape {
		if d == 1 && result.Shape()[i] > 1 {
			result = backend.SumDim(result, i, true)
		}
	}
	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}
	return result
}

// maskWhere builds a 0/1 tensor shaped like x with 1 where keep(v) holds.
func maskWhere(x *tensor.RawTensor, keep func(v float32) bool) *tensor.RawTensor {
	mask, err := tensor.NewRaw(x.Shape(), x.Device())
	if err != nil {
		panic(fmt.Sprintf("mask: failed to create mask: %v", err))
	}
	md := mask.Data()
	for i, v := range x.Data() {
		if keep(v) {
			md[i] = 1
		}
	}
	return mask
}

// narrow returns the slice [start, start+length) of x along dim as a new tensor.
func narrow(x *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := x.Shape()
	outShape := shape.Clone()
	outShape[dim] = length
	out, err := tensor.NewRaw(outShape, x.Device())
	if err != nil {
		panic(fmt.Sprintf("narrow: %v", err))
	}
	outer := shape[:dim].NumElements()
	inner := shape[dim+1:].NumElements()
	in, od := x.Data(), out.Data()
	for o := 0; o < outer; o++ {
		src := (o*shape[dim] + start) * inner
		copy(od[o*length*inner:(o+1)*length*inner], in[src:src+length*inner])
	}
	return out
}

func zerosLike(x *tensor.RawTensor) *tensor.RawTensor {
	return tensor.MustRaw(x.Shape(), x.Device())
}
