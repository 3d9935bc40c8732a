package optim

import (
	"strconv"

	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
)

// SGD is gradient descent with optional heavy-ball momentum and L2 weight
// decay:
//
//	g = grad + weightDecay * p
//	v = momentum * v + g   (when momentum != 0)
//	p = p - lr * v
//
// The search loop of cmd/flexnas can use it for the network weights while
// the architecture parameters keep Adam.
type SGD[B tensor.Backend] struct {
	params      []*nn.Parameter[B]
	lr          float32
	momentum    float32
	weightDecay float32
	velocities  map[*nn.Parameter[B]][]float32
}

// SGDConfig configures SGD. A zero LR means 0.01.
type SGDConfig struct {
	LR          float32
	Momentum    float32 // In [0, 1).
	WeightDecay float32
}

// NewSGD creates an SGD optimizer over params.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, _ B) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD[B]{
		params:      params,
		lr:          config.LR,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		velocities:  make(map[*nn.Parameter[B]][]float32),
	}
}

// Step updates the parameter storage in place, outside any gradient tape.
// Frozen parameters and parameters without a gradient are left alone.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, p := range s.params {
		grad := getGradient(p, grads)
		if grad == nil {
			continue
		}
		data, g := p.Tensor().Data(), grad.Data()
		v := s.velocity(p, len(data))
		for i := range data {
			step := g[i] + s.weightDecay*data[i]
			if v != nil {
				v[i] = s.momentum*v[i] + step
				step = v[i]
			}
			data[i] -= s.lr * step
		}
	}
}

func (s *SGD[B]) velocity(p *nn.Parameter[B], n int) []float32 {
	if s.momentum == 0 {
		return nil
	}
	v, ok := s.velocities[p]
	if !ok {
		v = make([]float32, n)
		s.velocities[p] = v
	}
	return v
}

// ZeroGrad clears the gradients of the parameters.
func (s *SGD[B]) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// GetLR returns the learning rate.
func (s *SGD[B]) GetLR() float32 { return s.lr }

// SetLR sets the learning rate.
func (s *SGD[B]) SetLR(lr float32) { s.lr = lr }

// StateDict returns copies of the momentum buffers keyed "velocity.<i>",
// where i indexes the parameters given to NewSGD.
func (s *SGD[B]) StateDict() map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor)
	for i, p := range s.params {
		v, ok := s.velocities[p]
		if !ok {
			continue
		}
		raw, err := tensor.RawFromSlice(append([]float32(nil), v...), p.Tensor().Shape(), tensor.CPU)
		if err != nil {
			continue
		}
		out["velocity."+strconv.Itoa(i)] = raw
	}
	return out
}
