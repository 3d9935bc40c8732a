package cpu

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/parallel"
	"github.com/born-ml/flexnas/internal/tensor"
)

// convGeometry holds the sizes shared by the forward and backward kernels.
type convGeometry struct {
	n, c, h, w      int
	o, cg, kh, kw   int
	outH, outW      int
	groups, outPerG int
	p               tensor.ConvParams
}

func newConvGeometry(op string, inputShape, kernelShape tensor.Shape, p tensor.ConvParams) convGeometry {
	p = p.Normalized()
	if len(inputShape) != 4 || len(kernelShape) != 4 {
		panic(fmt.Sprintf("%s: expected 4D input and kernel, got %v and %v", op, inputShape, kernelShape))
	}
	g := convGeometry{
		n: inputShape[0], c: inputShape[1], h: inputShape[2], w: inputShape[3],
		o: kernelShape[0], cg: kernelShape[1], kh: kernelShape[2], kw: kernelShape[3],
		groups: p.Groups, p: p,
	}
	if g.c%g.groups != 0 || g.o%g.groups != 0 {
		panic(fmt.Sprintf("%s: channels (in=%d, out=%d) not divisible by groups=%d", op, g.c, g.o, g.groups))
	}
	if g.c/g.groups != g.cg {
		panic(fmt.Sprintf("%s: kernel %v expects %d input channels per group, input %v has %d",
			op, kernelShape, g.cg, inputShape, g.c/g.groups))
	}
	g.outPerG = g.o / g.groups
	g.outH, g.outW = p.OutputSize(g.h, g.w, g.kh, g.kw)
	if g.outH <= 0 || g.outW <= 0 {
		panic(fmt.Sprintf("%s: empty output for input %v and kernel %v", op, inputShape, kernelShape))
	}
	return g
}

// visit calls f for every (input offset, kernel offset, output offset) triple
// contributing to output channel o of sample n. Out-of-bounds taps are skipped.
func (g *convGeometry) visit(n, o int, f func(inIdx, kIdx, outIdx int)) {
	grp := o / g.outPerG
	for oh := 0; oh < g.outH; oh++ {
		for ow := 0; ow < g.outW; ow++ {
			outIdx := ((n*g.o+o)*g.outH+oh)*g.outW + ow
			for c := 0; c < g.cg; c++ {
				ic := grp*g.cg + c
				for i := 0; i < g.kh; i++ {
					ih := oh*g.p.StrideH + i*g.p.DilationH - g.p.PadTop
					if ih < 0 || ih >= g.h {
						continue
					}
					for j := 0; j < g.kw; j++ {
						iw := ow*g.p.StrideW + j*g.p.DilationW - g.p.PadLeft
						if iw < 0 || iw >= g.w {
							continue
						}
						f(((n*g.c+ic)*g.h+ih)*g.w+iw, ((o*g.cg+c)*g.kh+i)*g.kw+j, outIdx)
					}
				}
			}
		}
	}
}

// Conv2D performs a grouped, dilated 2D convolution.
//
// Input: [N, C, H, W], kernel: [O, C/groups, KH, KW], output: [N, O, outH, outW].
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, p tensor.ConvParams) *tensor.RawTensor {
	g := newConvGeometry("conv2d", input.Shape(), kernel.Shape(), p)
	result := cpu.newRaw("conv2d", tensor.Shape{g.n, g.o, g.outH, g.outW})
	in, k, out := input.Data(), kernel.Data(), result.Data()

	parallel.ForBatch(g.n, g.o, func(n, o int) {
		g.visit(n, o, func(inIdx, kIdx, outIdx int) {
			out[outIdx] += in[inIdx] * k[kIdx]
		})
	}, cpu.parallel)
	return result
}

// Conv2DInputGrad computes the gradient of Conv2D w.r.t. its input.
func (cpu *CPUBackend) Conv2DInputGrad(grad, kernel *tensor.RawTensor, inputShape tensor.Shape, p tensor.ConvParams) *tensor.RawTensor {
	g := newConvGeometry("conv2dInputGrad", inputShape, kernel.Shape(), p)
	result := cpu.newRaw("conv2dInputGrad", inputShape)
	gd, k, out := grad.Data(), kernel.Data(), result.Data()

	// Output channels of one group write the same input channels, so the
	// fan-out is over (sample, group) pairs.
	parallel.ForBatch(g.n, g.groups, func(n, grp int) {
		for o := grp * g.outPerG; o < (grp+1)*g.outPerG; o++ {
			g.visit(n, o, func(inIdx, kIdx, outIdx int) {
				out[inIdx] += gd[outIdx] * k[kIdx]
			})
		}
	}, cpu.parallel)
	return result
}

// Conv2DKernelGrad computes the gradient of Conv2D w.r.t. its kernel.
func (cpu *CPUBackend) Conv2DKernelGrad(input, grad *tensor.RawTensor, kernelShape tensor.Shape, p tensor.ConvParams) *tensor.RawTensor {
	g := newConvGeometry("conv2dKernelGrad", input.Shape(), kernelShape, p)
	result := cpu.newRaw("conv2dKernelGrad", kernelShape)
	in, gd, out := input.Data(), grad.Data(), result.Data()

	parallel.For(g.o, func(o int) {
		for n := 0; n < g.n; n++ {
			g.visit(n, o, func(inIdx, kIdx, outIdx int) {
				out[kIdx] += gd[outIdx] * in[inIdx]
			})
		}
	}, cpu.parallel)
	return result
}
