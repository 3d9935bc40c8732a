package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/flexnas/autodiff"
	"github.com/born-ml/flexnas/backend/cpu"
	"github.com/born-ml/flexnas/cost"
	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/methods"
	"github.com/born-ml/flexnas/methods/pit"
	"github.com/born-ml/flexnas/methods/supernet"
	"github.com/born-ml/flexnas/nas"
	"github.com/born-ml/flexnas/nn"
	"github.com/born-ml/flexnas/optim"
	"github.com/born-ml/flexnas/tensor"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

type tapeBackend = *autodiff.Backend[*cpu.Backend]

// runSearch converts the demo network, trains weights and architecture on
// synthetic data with a size regularizer, and exports the result.
func runSearch(cfg *Config) error {
	backend := autodiff.New(cpu.New())
	model := newSimpleNN(cfg, backend)
	shape := tensor.Shape(cfg.InputShape)
	paramsBefore := cost.TreeParams[tapeBackend](model)

	gm, targets, err := nas.Convert[tapeBackend](model, shape, methods.AutoImport, nas.ExcludeNames(cfg.ExcludeNames...))
	if err != nil {
		return err
	}
	klog.V(1).Infof("searching %d layers of %s", len(targets), gm.Name())

	arch := make(map[*nn.Parameter[tapeBackend]]bool)
	for _, t := range targets {
		for _, np := range nasParameters(t) {
			arch[np.Parameter] = true
		}
	}
	archParams, weights := optim.Split(gm.Parameters(), func(p *nn.Parameter[tapeBackend]) bool { return arch[p] })
	weightOpt := newWeightOptimizer(cfg, weights, backend)
	archOpt := optim.NewAdam(archParams, optim.AdamConfig{LR: cfg.NASLearningRate}, backend)

	x := tensor.Randn(append(tensor.Shape{cfg.BatchSize}, shape...), backend)
	y := tensor.Randn(tensor.Shape{cfg.BatchSize, cfg.NumClasses}, backend)
	mse := nn.NewMSELoss[tapeBackend]()

	nn.SetTraining[tapeBackend](gm, true)
	bar := progressbar.NewOptions(cfg.Steps,
		progressbar.OptionSetDescription("search"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)
	tape := backend.Tape()
	tape.StartRecording()
	for step := range cfg.Steps {
		tape.Clear()
		loss := mse.Forward(gm.Forward(x), y)
		total := loss.Add(must.M1(sizeRegularizer(targets, backend)).MulScalar(cfg.Strength))
		grads := autodiff.Backward(total, backend)
		weightOpt.Step(grads)
		archOpt.Step(grads)
		bar.Describe(fmt.Sprintf("search loss=%.4f", loss.Item()))
		_ = bar.Add(1)
		klog.V(2).Infof("step %d: loss %g", step, loss.Item())
	}
	tape.StopRecording()
	_ = bar.Finish()
	fmt.Println()

	var names []string
	for _, t := range targets {
		names = append(names, t.Name)
	}
	fmt.Println(summaryTable(gm, names))

	nn.SetTraining[tapeBackend](gm, false)
	exported, _, err := nas.Convert[tapeBackend](gm, shape, methods.Export)
	if err != nil {
		return err
	}
	if err := graph.ShapeProp(exported, backend, shape); err != nil {
		return err
	}
	fmt.Println(layerTable(exported))
	paramsAfter := cost.TreeParams[tapeBackend](exported)
	klog.Infof("params: %d -> %d", paramsBefore, paramsAfter)
	return saveModel(exported, cfg.Output, cfg.Float16, map[string]string{
		"format":       "flexnas-pit",
		"steps":        strconv.Itoa(cfg.Steps),
		"input_shape":  fmt.Sprint(cfg.InputShape),
		"params_after": strconv.Itoa(paramsAfter),
	})
}

// newWeightOptimizer returns the optimizer of the network weights selected by
// cfg.Optimizer.
func newWeightOptimizer(cfg *Config, params []*nn.Parameter[tapeBackend], backend tapeBackend) optim.Optimizer {
	if strings.EqualFold(cfg.Optimizer, "sgd") {
		return optim.NewSGD(params, optim.SGDConfig{LR: cfg.LearningRate, Momentum: cfg.Momentum}, backend)
	}
	return optim.NewAdam(params, optim.AdamConfig{LR: cfg.LearningRate}, backend)
}

func nasParameters(t nas.TargetLayer[tapeBackend]) []nn.NamedParameter[tapeBackend] {
	switch l := t.Layer.(type) {
	case pit.Layer[tapeBackend]:
		return l.NamedNASParameters(t.Name, true)
	case *supernet.Combiner[tapeBackend]:
		return l.NamedNASParameters(t.Name, true)
	}
	return nil
}

// sizeRegularizer sums the differentiable sizes of the searchable layers.
// PIT layers inside SuperNet branches are counted by their combiner, weighted
// by its theta.
func sizeRegularizer(targets []nas.TargetLayer[tapeBackend], backend tapeBackend) (*tensor.Tensor[tapeBackend], error) {
	inBranch := make(map[string]bool)
	for _, t := range targets {
		if c, ok := t.Layer.(*supernet.Combiner[tapeBackend]); ok {
			for _, b := range c.Branches() {
				for _, l := range b.Layers {
					inBranch[l.Name] = true
				}
			}
		}
	}
	var total *tensor.Tensor[tapeBackend]
	add := func(t *tensor.Tensor[tapeBackend]) {
		if total == nil {
			total = t
		} else {
			total = total.Add(t)
		}
	}
	for _, t := range targets {
		switch l := t.Layer.(type) {
		case pit.Layer[tapeBackend]:
			if !inBranch[t.Name] {
				add(l.Size())
			}
		case *supernet.Combiner[tapeBackend]:
			reg, err := l.SizeRegularizer()
			if err != nil {
				return nil, err
			}
			add(reg)
		}
	}
	if total == nil {
		return tensor.Scalar(0, backend), nil
	}
	return total, nil
}
