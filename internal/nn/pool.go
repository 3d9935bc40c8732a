package nn

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/tensor"
)

// AvgPool1d averages windows of a [N, C, L] input.
type AvgPool1d[B tensor.Backend] struct {
	kernel, stride int
}

// NewAvgPool1d creates an AvgPool1d layer. A zero stride defaults to kernel.
func NewAvgPool1d[B tensor.Backend](kernel, stride int) *AvgPool1d[B] {
	if stride == 0 {
		stride = kernel
	}
	return &AvgPool1d[B]{kernel: kernel, stride: stride}
}

// Forward applies the pooling.
func (p *AvgPool1d[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	s := input.Shape()
	if len(s) != 3 {
		panic(fmt.Sprintf("AvgPool1d.Forward: expected 3D input, got shape %v", s))
	}
	out := input.Reshape(s[0], s[1], 1, s[2]).AvgPool2D(tensor.PoolParams{
		KernelH: 1, KernelW: p.kernel, StrideH: 1, StrideW: p.stride,
	})
	os := out.Shape()
	return out.Reshape(os[0], os[1], os[3])
}

// Parameters returns nil.
func (p *AvgPool1d[B]) Parameters() []*Parameter[B] { return nil }

// FeaturesRole implements RoleReporter.
func (p *AvgPool1d[B]) FeaturesRole() FeaturesRole { return RolePropagating }

func (p *AvgPool1d[B]) String() string {
	return fmt.Sprintf("AvgPool1d(kernel_size=%d, stride=%d)", p.kernel, p.stride)
}

// AvgPool2d averages square windows of a [N, C, H, W] input.
type AvgPool2d[B tensor.Backend] struct {
	params tensor.PoolParams
}

// NewAvgPool2d creates an AvgPool2d layer. A zero stride defaults to kernel.
func NewAvgPool2d[B tensor.Backend](kernel, stride int) *AvgPool2d[B] {
	return &AvgPool2d[B]{params: tensor.PoolParams{KernelH: kernel, KernelW: kernel, StrideH: stride, StrideW: stride}.Normalized()}
}

// Forward applies the pooling.
func (p *AvgPool2d[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return input.AvgPool2D(p.params)
}

// Parameters returns nil.
func (p *AvgPool2d[B]) Parameters() []*Parameter[B] { return nil }

// FeaturesRole implements RoleReporter.
func (p *AvgPool2d[B]) FeaturesRole() FeaturesRole { return RolePropagating }

func (p *AvgPool2d[B]) String() string {
	return fmt.Sprintf("AvgPool2d(kernel_size=%d, stride=%d)", p.params.KernelH, p.params.StrideH)
}

// MaxPool2d takes the maximum over square windows of a [N, C, H, W] input.
type MaxPool2d[B tensor.Backend] struct {
	params tensor.PoolParams
}

// NewMaxPool2d creates a MaxPool2d layer. A zero stride defaults to kernel.
func NewMaxPool2d[B tensor.Backend](kernel, stride int) *MaxPool2d[B] {
	return &MaxPool2d[B]{params: tensor.PoolParams{KernelH: kernel, KernelW: kernel, StrideH: stride, StrideW: stride}.Normalized()}
}

// Forward applies the pooling.
func (p *MaxPool2d[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return input.MaxPool2D(p.params)
}

// Parameters returns nil.
func (p *MaxPool2d[B]) Parameters() []*Parameter[B] { return nil }

// FeaturesRole implements RoleReporter.
func (p *MaxPool2d[B]) FeaturesRole() FeaturesRole { return RolePropagating }

func (p *MaxPool2d[B]) String() string {
	return fmt.Sprintf("MaxPool2d(kernel_size=%d, stride=%d)", p.params.KernelH, p.params.StrideH)
}
