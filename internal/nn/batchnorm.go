package nn

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/tensor"
)

// BatchNorm normalizes each channel of its input with batch statistics during
// training and running statistics at inference.
//
// BatchNorm1d accepts [N, C] or [N, C, L] inputs; BatchNorm2d accepts
// [N, C, H, W]. Both share this implementation.
type BatchNorm[B tensor.Backend] struct {
	name        string
	numFeatures int
	rank        int
	eps         float32
	momentum    float32
	weight      *Parameter[B]
	bias        *Parameter[B]
	runningMean []float32
	runningVar  []float32
	training    bool
	backend     B
}

// NewBatchNorm1d creates a batch normalization layer for 2D/3D inputs.
func NewBatchNorm1d[B tensor.Backend](numFeatures int, backend B) *BatchNorm[B] {
	return newBatchNorm("BatchNorm1d", numFeatures, 3, backend)
}

// NewBatchNorm2d creates a batch normalization layer for 4D inputs.
func NewBatchNorm2d[B tensor.Backend](numFeatures int, backend B) *BatchNorm[B] {
	return newBatchNorm("BatchNorm2d", numFeatures, 4, backend)
}

func newBatchNorm[B tensor.Backend](name string, numFeatures, rank int, backend B) *BatchNorm[B] {
	bn := &BatchNorm[B]{
		name:        name,
		numFeatures: numFeatures,
		rank:        rank,
		eps:         1e-5,
		momentum:    0.1,
		weight:      NewParameter("weight", tensor.Ones(tensor.Shape{numFeatures}, backend)),
		bias:        NewParameter("bias", tensor.Zeros(tensor.Shape{numFeatures}, backend)),
		runningMean: make([]float32, numFeatures),
		runningVar:  make([]float32, numFeatures),
		training:    true,
		backend:     backend,
	}
	for i := range bn.runningVar {
		bn.runningVar[i] = 1
	}
	return bn
}

// Forward normalizes the input.
func (bn *BatchNorm[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	s := input.Shape()
	if len(s) < 2 || len(s) > bn.rank || (bn.rank == 4 && len(s) != 4) || s[1] != bn.numFeatures {
		panic(fmt.Sprintf("%s.Forward: unexpected input shape %v for %d features", bn.name, s, bn.numFeatures))
	}
	x := input.Reshape(s[0], s[1], -1)
	var mean, variance *tensor.Tensor[B]
	if bn.training {
		mean = x.MeanDim(2, true).MeanDim(0, true)
		centered := x.Sub(mean)
		variance = centered.Mul(centered).MeanDim(2, true).MeanDim(0, true)
		bn.updateRunning(mean, variance, s[0]*x.Shape()[2])
	} else {
		mean = tensor.MustFromSlice(append([]float32(nil), bn.runningMean...), tensor.Shape{1, bn.numFeatures, 1}, bn.backend)
		variance = tensor.MustFromSlice(append([]float32(nil), bn.runningVar...), tensor.Shape{1, bn.numFeatures, 1}, bn.backend)
	}
	norm := x.Sub(mean).Div(variance.AddScalar(bn.eps).Sqrt())
	out := norm.Mul(bn.weight.Tensor().Reshape(1, -1, 1)).Add(bn.bias.Tensor().Reshape(1, -1, 1))
	return out.Reshape(s...)
}

func (bn *BatchNorm[B]) updateRunning(mean, variance *tensor.Tensor[B], n int) {
	defer autodiff.PauseRecording(bn.backend)()
	unbias := float32(1)
	if n > 1 {
		unbias = float32(n) / float32(n-1)
	}
	m, v := mean.Data(), variance.Data()
	for c := range bn.numFeatures {
		bn.runningMean[c] = (1-bn.momentum)*bn.runningMean[c] + bn.momentum*m[c]
		bn.runningVar[c] = (1-bn.momentum)*bn.runningVar[c] + bn.momentum*v[c]*unbias
	}
}

// Parameters returns gamma and beta.
func (bn *BatchNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.weight, bn.bias}
}

// SetTraining implements TrainingMode.
func (bn *BatchNorm[B]) SetTraining(training bool) { bn.training = training }

// FeaturesRole implements RoleReporter.
func (bn *BatchNorm[B]) FeaturesRole() FeaturesRole { return RolePropagating }

// NumFeatures returns the number of normalized channels.
func (bn *BatchNorm[B]) NumFeatures() int { return bn.numFeatures }

// Eps returns the variance epsilon.
func (bn *BatchNorm[B]) Eps() float32 { return bn.eps }

// Weight returns gamma.
func (bn *BatchNorm[B]) Weight() *Parameter[B] { return bn.weight }

// Bias returns beta.
func (bn *BatchNorm[B]) Bias() *Parameter[B] { return bn.bias }

// RunningMean returns the running mean (shared, not copied).
func (bn *BatchNorm[B]) RunningMean() []float32 { return bn.runningMean }

// RunningVar returns the running variance (shared, not copied).
func (bn *BatchNorm[B]) RunningVar() []float32 { return bn.runningVar }

func (bn *BatchNorm[B]) String() string {
	return fmt.Sprintf("%s(%d, eps=%g, momentum=%g)", bn.name, bn.numFeatures, bn.eps, bn.momentum)
}

// Training reports whether batch statistics are used.
func (bn *BatchNorm[B]) Training() bool { return bn.training }

// SelectChannels returns a new layer keeping only the given channels, with
// their affine parameters and running statistics copied.
func (bn *BatchNorm[B]) SelectChannels(channels []int) *BatchNorm[B] {
	out := newBatchNorm(bn.name, len(channels), bn.rank, bn.backend)
	out.eps = bn.eps
	out.momentum = bn.momentum
	out.training = bn.training
	w, b := bn.weight.Tensor().Data(), bn.bias.Tensor().Data()
	ow, ob := out.weight.Tensor().Data(), out.bias.Tensor().Data()
	for i, c := range channels {
		if c < 0 || c >= bn.numFeatures {
			panic(fmt.Sprintf("%s.SelectChannels: channel %d out of range [0, %d)", bn.name, c, bn.numFeatures))
		}
		ow[i], ob[i] = w[c], b[c]
		out.runningMean[i] = bn.runningMean[c]
		out.runningVar[i] = bn.runningVar[c]
	}
	return out
}
