package pit

import (
	"github.com/born-ml/flexnas/cost"
	"github.com/born-ml/flexnas/features"
	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/autodiff"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/naserr"
)

// Layer is a layer whose output channels (and possibly receptive field) are
// searched by PIT.
type Layer[B tensor.Backend] interface {
	nn.Module[B]
	cost.Estimator

	OutChannelMasker() *ChannelMasker[B]
	// SetOutChannelMasker shares a masker between layers whose outputs must
	// keep the same channels.
	SetOutChannelMasker(m *ChannelMasker[B])
	// InputFeatures reads the alive input channels.
	InputFeatures() features.Calculator[B]
	SetInputFeatures(calc features.Calculator[B])
	// FeaturesCalculator reports the alive output channels.
	FeaturesCalculator() features.Calculator[B]
	// FuseBatchNorm absorbs a batch normalization applied to the output.
	FuseBatchNorm(bn *nn.BatchNorm[B]) error
	// SetOutputShape records the output shape seen during shape
	// propagation, used by MACs.
	SetOutputShape(shape tensor.Shape)

	// Size is the differentiable number of parameters.
	Size() *tensor.Tensor[B]
	// MACs is the differentiable number of multiply-accumulate operations
	// for one sample.
	MACs() *tensor.Tensor[B]

	Summary() map[string]any
	NamedNASParameters(prefix string, recurse bool) []nn.NamedParameter[B]
	// Export replaces the layer called by n with plain layers keeping only
	// the alive channels and timesteps.
	Export(n *graph.Node, gm *graph.Module[B]) error
}

// IsLayer is a tracer leaf predicate accepting PIT layers.
func IsLayer[B tensor.Backend](m any) bool {
	_, ok := m.(Layer[B])
	return ok
}

// base holds the state common to all PIT layers.
type base[B tensor.Backend] struct {
	inChannels, outChannels int
	outMasker               *ChannelMasker[B]
	inputFeatures           features.Calculator[B]
	bn                      *nn.BatchNorm[B]
	outSpatial              int
	backend                 B
}

func newBase[B tensor.Backend](in, out int, backend B) base[B] {
	return base[B]{
		inChannels:  in,
		outChannels: out,
		outMasker:   NewChannelMasker(out, backend),
		outSpatial:  1,
		backend:     backend,
	}
}

// OutChannelMasker returns the output channel masker.
func (l *base[B]) OutChannelMasker() *ChannelMasker[B] { return l.outMasker }

// SetOutChannelMasker replaces the output channel masker.
func (l *base[B]) SetOutChannelMasker(m *ChannelMasker[B]) {
	if m.Size() != l.outChannels {
		panic(naserr.Structuralf("channel masker of size %d on a layer with %d output channels", m.Size(), l.outChannels))
	}
	l.outMasker = m
}

// InputFeatures returns the input features calculator; all input channels
// are alive until one is registered.
func (l *base[B]) InputFeatures() features.Calculator[B] {
	if l.inputFeatures == nil {
		return features.NewConst(l.inChannels, l.backend)
	}
	return l.inputFeatures
}

// SetInputFeatures registers the calculator of the layer input.
func (l *base[B]) SetInputFeatures(calc features.Calculator[B]) { l.inputFeatures = calc }

// FeaturesCalculator returns a calculator following the output mask, even
// after the masker is replaced.
func (l *base[B]) FeaturesCalculator() features.Calculator[B] {
	return features.NewMasked(l.outChannels, func() *tensor.Tensor[B] { return l.outMasker.Mask() })
}

// BatchNorm returns the fused batch normalization, if any.
func (l *base[B]) BatchNorm() *nn.BatchNorm[B] { return l.bn }

// FuseBatchNorm absorbs bn.
func (l *base[B]) FuseBatchNorm(bn *nn.BatchNorm[B]) error {
	if l.bn != nil {
		return naserr.Structuralf("layer already has a fused batch normalization")
	}
	if bn.NumFeatures() != l.outChannels {
		return naserr.Structuralf("batch normalization over %d features after a layer with %d output channels",
			bn.NumFeatures(), l.outChannels)
	}
	l.bn = bn
	return nil
}

// SetOutputShape implements Layer.
func (l *base[B]) SetOutputShape(shape tensor.Shape) {
	l.outSpatial = 1
	if len(shape) > 2 {
		l.outSpatial = shape[2:].NumElements()
	}
}

// finish applies the fused normalization and zeroes the masked channels.
func (l *base[B]) finish(y *tensor.Tensor[B]) *tensor.Tensor[B] {
	if l.bn != nil {
		y = l.bn.Forward(y)
	}
	shape := make([]int, len(y.Shape()))
	for i := range shape {
		shape[i] = 1
	}
	shape[1] = l.outChannels
	return y.Mul(l.outMasker.Mask().Reshape(shape...))
}

func (l *base[B]) outFeatures() *tensor.Tensor[B] { return l.outMasker.Mask().Sum() }

func (l *base[B]) inFeatures() *tensor.Tensor[B] { return l.InputFeatures().Features() }

// addBNSize adds the differentiable size of the fused normalization.
func (l *base[B]) addBNSize(size *tensor.Tensor[B]) *tensor.Tensor[B] {
	if l.bn == nil {
		return size
	}
	return size.Add(l.outFeatures().MulScalar(2))
}

// children lists the maskers and the fused normalization.
func (l *base[B]) children(extra ...nn.NamedModule[B]) []nn.NamedModule[B] {
	out := []nn.NamedModule[B]{{Name: "out_channel_masker", Module: l.outMasker}}
	out = append(out, extra...)
	if l.bn != nil {
		out = append(out, nn.NamedModule[B]{Name: "bn", Module: l.bn})
	}
	return out
}

func (l *base[B]) childParameters(own []*nn.Parameter[B], extra ...nn.NamedModule[B]) []*nn.Parameter[B] {
	params := append([]*nn.Parameter[B](nil), own...)
	for _, c := range l.children(extra...) {
		params = append(params, c.Module.Parameters()...)
	}
	return params
}

// nasParameters names the masker parameters of the layer.
func (l *base[B]) nasParameters(prefix string, extra ...nn.NamedModule[B]) []nn.NamedParameter[B] {
	var out []nn.NamedParameter[B]
	maskers := []nn.NamedModule[B]{{Name: "out_channel_masker", Module: l.outMasker}}
	for _, m := range append(maskers, extra...) {
		for _, p := range m.Module.Parameters() {
			out = append(out, nn.NamedParameter[B]{
				Name:      nn.JoinName(nn.JoinName(prefix, m.Name), p.Name()),
				Parameter: p,
			})
		}
	}
	return out
}

// alive returns the alive input and output channel indices.
func (l *base[B]) alive() (in, out []int) {
	defer autodiff.PauseRecording(l.backend)()
	return features.AliveIndices(l.InputFeatures().FeaturesMask()),
		features.AliveIndices(l.outMasker.Mask())
}

// estimate evaluates a differentiable cost without recording it.
func (l *base[B]) estimate(fn func() *tensor.Tensor[B]) int {
	defer autodiff.PauseRecording(l.backend)()
	v := fn().Item()
	return int(v + 0.5)
}

// replace installs the exported layer and, when a normalization was fused,
// calls a pruned copy of it right after n.
func (l *base[B]) replace(n *graph.Node, gm *graph.Module[B], layer nn.Module[B], outIdx []int) error {
	if err := gm.SetSubmodule(n.Target, layer); err != nil {
		return err
	}
	if l.bn == nil {
		return nil
	}
	name := n.Target + "_bn"
	if err := gm.AddSubmodule(name, l.bn.SelectChannels(outIdx)); err != nil {
		return err
	}
	g := gm.Graph()
	var bnNode *graph.Node
	g.InsertingAfter(n, func() {
		bnNode = g.CallModule(name, n)
	})
	g.ReplaceAllUsesWith(n, bnNode)
	return nil
}

func biasOrNil[B tensor.Backend](p *nn.Parameter[B]) *tensor.Tensor[B] {
	if p == nil {
		return nil
	}
	return p.Tensor()
}

func selectBias[B tensor.Backend](p *nn.Parameter[B], idx []int) *tensor.Tensor[B] {
	if p == nil {
		return nil
	}
	return selectIndex(p.Tensor(), 0, idx)
}
