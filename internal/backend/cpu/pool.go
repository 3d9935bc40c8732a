package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/flexnas/internal/parallel"
	"github.com/born-ml/flexnas/internal/tensor"
)

func poolOutput(op string, shape tensor.Shape, p tensor.PoolParams) (int, int) {
	if len(shape) != 4 {
		panic(fmt.Sprintf("%s: expected 4D input, got %v", op, shape))
	}
	outH := (shape[2]-p.KernelH)/p.StrideH + 1
	outW := (shape[3]-p.KernelW)/p.StrideW + 1
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("%s: window %dx%d larger than input %v", op, p.KernelH, p.KernelW, shape))
	}
	return outH, outW
}

// AvgPool2D averages non-padded windows of [N, C, H, W].
func (cpu *CPUBackend) AvgPool2D(input *tensor.RawTensor, p tensor.PoolParams) *tensor.RawTensor {
	p = p.Normalized()
	s := input.Shape()
	outH, outW := poolOutput("avgPool2d", s, p)
	result := cpu.newRaw("avgPool2d", tensor.Shape{s[0], s[1], outH, outW})
	in, out := input.Data(), result.Data()
	norm := 1 / float32(p.KernelH*p.KernelW)

	parallel.ForBatch(s[0], s[1], func(n, c int) {
		plane := (n*s[1] + c) * s[2] * s[3]
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				var acc float32
				for i := 0; i < p.KernelH; i++ {
					row := plane + (oh*p.StrideH+i)*s[3] + ow*p.StrideW
					for j := 0; j < p.KernelW; j++ {
						acc += in[row+j]
					}
				}
				out[((n*s[1]+c)*outH+oh)*outW+ow] = acc * norm
			}
		}
	}, cpu.parallel)
	return result
}

// AvgPool2DGrad spreads each output gradient evenly over its window.
func (cpu *CPUBackend) AvgPool2DGrad(grad *tensor.RawTensor, inputShape tensor.Shape, p tensor.PoolParams) *tensor.RawTensor {
	p = p.Normalized()
	s := inputShape
	outH, outW := poolOutput("avgPool2dGrad", s, p)
	result := cpu.newRaw("avgPool2dGrad", s)
	gd, out := grad.Data(), result.Data()
	norm := 1 / float32(p.KernelH*p.KernelW)

	parallel.ForBatch(s[0], s[1], func(n, c int) {
		plane := (n*s[1] + c) * s[2] * s[3]
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				g := gd[((n*s[1]+c)*outH+oh)*outW+ow] * norm
				for i := 0; i < p.KernelH; i++ {
					row := plane + (oh*p.StrideH+i)*s[3] + ow*p.StrideW
					for j := 0; j < p.KernelW; j++ {
						out[row+j] += g
					}
				}
			}
		}
	}, cpu.parallel)
	return result
}

// MaxPool2D takes the maximum of non-padded windows of [N, C, H, W].
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, p tensor.PoolParams) *tensor.RawTensor {
	p = p.Normalized()
	s := input.Shape()
	outH, outW := poolOutput("maxPool2d", s, p)
	result := cpu.newRaw("maxPool2d", tensor.Shape{s[0], s[1], outH, outW})
	in, out := input.Data(), result.Data()

	parallel.ForBatch(s[0], s[1], func(n, c int) {
		plane := (n*s[1] + c) * s[2] * s[3]
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				best := argmaxWindow(in, plane, s[3], oh, ow, p)
				out[((n*s[1]+c)*outH+oh)*outW+ow] = in[best]
			}
		}
	}, cpu.parallel)
	return result
}

// MaxPool2DGrad routes each output gradient to the (first) maximum of its window.
func (cpu *CPUBackend) MaxPool2DGrad(input, grad *tensor.RawTensor, p tensor.PoolParams) *tensor.RawTensor {
	p = p.Normalized()
	s := input.Shape()
	outH, outW := poolOutput("maxPool2dGrad", s, p)
	result := cpu.newRaw("maxPool2dGrad", s)
	in, gd, out := input.Data(), grad.Data(), result.Data()

	parallel.ForBatch(s[0], s[1], func(n, c int) {
		plane := (n*s[1] + c) * s[2] * s[3]
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				best := argmaxWindow(in, plane, s[3], oh, ow, p)
				out[best] += gd[((n*s[1]+c)*outH+oh)*outW+ow]
			}
		}
	}, cpu.parallel)
	return result
}

func argmaxWindow(in []float32, plane, width, oh, ow int, p tensor.PoolParams) int {
	best := -1
	bestV := float32(math.Inf(-1))
	for i := 0; i < p.KernelH; i++ {
		row := plane + (oh*p.StrideH+i)*width + ow*p.StrideW
		for j := 0; j < p.KernelW; j++ {
			if best < 0 || in[row+j] > bestV {
				best, bestV = row+j, in[row+j]
			}
		}
	}
	return best
}
