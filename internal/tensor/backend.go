package tensor

// ConvParams describes a grouped, dilated 2D convolution with per-side padding.
// One-dimensional convolutions are expressed with a height of 1.
//
// Padding may be negative, in which case the corresponding border of the input
// is cropped instead of padded.
type ConvParams struct {
	StrideH, StrideW     int
	PadTop, PadBottom    int
	PadLeft, PadRight    int
	DilationH, DilationW int
	Groups               int
}

// Normalized returns a copy with zero strides, dilations and groups replaced by 1.
func (p ConvParams) Normalized() ConvParams {
	if p.StrideH == 0 {
		p.StrideH = 1
	}
	if p.StrideW == 0 {
		p.StrideW = 1
	}
	if p.DilationH == 0 {
		p.DilationH = 1
	}
	if p.DilationW == 0 {
		p.DilationW = 1
	}
	if p.Groups == 0 {
		p.Groups = 1
	}
	return p
}

// OutputSize computes the spatial output size for an input of size (h, w) and a
// kernel of size (kh, kw).
func (p ConvParams) OutputSize(h, w, kh, kw int) (int, int) {
	p = p.Normalized()
	outH := (h+p.PadTop+p.PadBottom-p.DilationH*(kh-1)-1)/p.StrideH + 1
	outW := (w+p.PadLeft+p.PadRight-p.DilationW*(kw-1)-1)/p.StrideW + 1
	return outH, outW
}

// PoolParams describes a 2D pooling window.
type PoolParams struct {
	KernelH, KernelW int
	StrideH, StrideW int
}

// Normalized returns a copy where zero strides default to the kernel size.
func (p PoolParams) Normalized() PoolParams {
	if p.StrideH == 0 {
		p.StrideH = p.KernelH
	}
	if p.StrideW == 0 {
		p.StrideW = p.KernelW
	}
	return p
}

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations.
//
// Implementations:
//   - cpu.CPUBackend: pure Go kernels
//   - autodiff.AutodiffBackend: decorator recording operations on a gradient tape
type Backend interface {
	// Element-wise binary operations (NumPy broadcasting)
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Matrix operations: (M, K) @ (K, N) -> (M, N)
	MatMul(a, b *RawTensor) *RawTensor

	// Convolution over [N, C, H, W] inputs with [O, C/groups, KH, KW] kernels,
	// and the two gradients needed by autodiff.
	Conv2D(input, kernel *RawTensor, p ConvParams) *RawTensor
	Conv2DInputGrad(grad, kernel *RawTensor, inputShape Shape, p ConvParams) *RawTensor
	Conv2DKernelGrad(input, grad *RawTensor, kernelShape Shape, p ConvParams) *RawTensor

	// Pooling over [N, C, H, W]
	AvgPool2D(input *RawTensor, p PoolParams) *RawTensor
	AvgPool2DGrad(grad *RawTensor, inputShape Shape, p PoolParams) *RawTensor
	MaxPool2D(input *RawTensor, p PoolParams) *RawTensor
	MaxPool2DGrad(input, grad *RawTensor, p PoolParams) *RawTensor

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Expand(t *RawTensor, newShape Shape) *RawTensor
	Cat(tensors []*RawTensor, dim int) *RawTensor

	// Scalar operations (element-wise with scalar)
	MulScalar(x *RawTensor, scalar float32) *RawTensor
	AddScalar(x *RawTensor, scalar float32) *RawTensor

	// Math operations (element-wise)
	Abs(x *RawTensor) *RawTensor
	Exp(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor
	ReLU(x *RawTensor) *RawTensor
	Clamp(x *RawTensor, lo, hi float32) *RawTensor

	// Discretization. Under autodiff both route gradients straight through.
	Round(x *RawTensor) *RawTensor
	Binarize(x, threshold *RawTensor) *RawTensor

	// Softmax along a dimension
	Softmax(x *RawTensor, dim int) *RawTensor

	// Reductions
	Sum(x *RawTensor) *RawTensor
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
