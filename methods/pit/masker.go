package pit

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
)

// BinarizationThreshold is the value above which a combined mask entry is
// kept.
const BinarizationThreshold = 0.5

// masker holds the state shared by the timestep and channel maskers: one
// shadow parameter per unit, with unit 0 kept alive.
type masker[B tensor.Backend] struct {
	size      int
	beta      *nn.Parameter[B]
	keepAlive *tensor.Tensor[B]
	maskable  *tensor.Tensor[B]
	threshold *tensor.Tensor[B]
}

func newMasker[B tensor.Backend](size int, backend B) masker[B] {
	if size < 1 {
		panic(fmt.Sprintf("pit: masker size must be positive, got %d", size))
	}
	ka := make([]float32, size)
	ka[0] = 1
	keepAlive := tensor.MustFromSlice(ka, tensor.Shape{size}, backend)
	return masker[B]{
		size:      size,
		beta:      nn.NewParameter("beta", tensor.Ones(tensor.Shape{size}, backend)),
		keepAlive: keepAlive,
		maskable:  keepAlive.Neg().AddScalar(1),
		threshold: tensor.Scalar(BinarizationThreshold, backend),
	}
}

// effective returns |beta| * (1-ka) + ka. A frozen masker reads a detached
// copy of beta, so no gradient reaches it.
func (m *masker[B]) effective() *tensor.Tensor[B] {
	beta := m.beta.Tensor()
	if !m.beta.Trainable() {
		beta = beta.Detach()
	}
	return beta.Abs().Mul(m.maskable).Add(m.keepAlive)
}

// Beta returns the shadow parameter.
func (m *masker[B]) Beta() *nn.Parameter[B] { return m.beta }

// Size returns the number of maskable units.
func (m *masker[B]) Size() int { return m.size }

// Trainable reports whether beta receives gradients.
func (m *masker[B]) Trainable() bool { return m.beta.Trainable() }

// SetTrainable freezes or unfreezes the mask.
func (m *masker[B]) SetTrainable(trainable bool) { m.beta.SetTrainable(trainable) }

// KeepAll resets beta to ones, which keeps every unit alive.
func (m *masker[B]) KeepAll() {
	data := m.beta.Tensor().Data()
	for i := range data {
		data[i] = 1
	}
}

// Parameters returns beta.
func (m *masker[B]) Parameters() []*nn.Parameter[B] { return []*nn.Parameter[B]{m.beta} }

// TimestepMasker masks the receptive field of a 1D convolution.
//
// The effective shadow parameters are accumulated by an upper triangular
// matrix of ones, so mask position i is kept when the parameters of all
// positions >= i add up to at least BinarizationThreshold. Position 0 is
// always kept and the mask never increases along the positions.
type TimestepMasker[B tensor.Backend] struct {
	masker[B]
	c *tensor.Tensor[B]
}

// NewTimestepMasker creates a masker over rf timesteps.
func NewTimestepMasker[B tensor.Backend](rf int, backend B) *TimestepMasker[B] {
	m := &TimestepMasker[B]{masker: newMasker(rf, backend)}
	c := make([]float32, rf*rf)
	for i := 0; i < rf; i++ {
		for j := i; j < rf; j++ {
			c[i*rf+j] = 1
		}
	}
	m.c = tensor.MustFromSlice(c, tensor.Shape{rf, rf}, backend)
	return m
}

// Mask returns the binary [rf] timestep mask.
func (m *TimestepMasker[B]) Mask() *tensor.Tensor[B] {
	theta := m.c.MatMul(m.effective().Reshape(m.size, 1)).Reshape(m.size)
	return theta.Binarize(m.threshold)
}

// Forward implements nn.Module. The input is ignored.
func (m *TimestepMasker[B]) Forward(*tensor.Tensor[B]) *tensor.Tensor[B] { return m.Mask() }

func (m *TimestepMasker[B]) String() string {
	return fmt.Sprintf("TimestepMasker(rf=%d, trainable=%t)", m.size, m.Trainable())
}

// ChannelMasker masks the output channels of a layer. Channels are
// independent; channel 0 is always kept.
type ChannelMasker[B tensor.Backend] struct {
	masker[B]
}

// NewChannelMasker creates a masker over channels.
func NewChannelMasker[B tensor.Backend](channels int, backend B) *ChannelMasker[B] {
	return &ChannelMasker[B]{masker: newMasker(channels, backend)}
}

// Mask returns the binary [channels] mask.
func (m *ChannelMasker[B]) Mask() *tensor.Tensor[B] {
	return m.effective().Binarize(m.threshold)
}

// Forward implements nn.Module. The input is ignored.
func (m *ChannelMasker[B]) Forward(*tensor.Tensor[B]) *tensor.Tensor[B] { return m.Mask() }

func (m *ChannelMasker[B]) String() string {
	return fmt.Sprintf("ChannelMasker(channels=%d, trainable=%t)", m.size, m.Trainable())
}

// flipMatrix returns the [n, n] anti-diagonal matrix of ones, which reverses
// a row vector it multiplies.
func flipMatrix[B tensor.Backend](n int, backend B) *tensor.Tensor[B] {
	data := make([]float32, n*n)
	for i := 0; i < n; i++ {
		data[i*n+n-1-i] = 1
	}
	return tensor.MustFromSlice(data, tensor.Shape{n, n}, backend)
}
