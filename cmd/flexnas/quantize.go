package main

import (
	"fmt"
	"math"

	"github.com/born-ml/flexnas/backend/cpu"
	"github.com/born-ml/flexnas/methods/mixprec"
	"github.com/born-ml/flexnas/methods/mixprec/backends"
	"github.com/born-ml/flexnas/nn"
	"github.com/born-ml/flexnas/tensor"
	"k8s.io/klog/v2"
)

var cnnInputShape = tensor.Shape{1, 16, 16}

// runQuantize fake-quantizes the 2D demo network, converts it to integer
// layers for the configured backend and reports how far the two disagree.
func runQuantize(cfg *Config) error {
	target, err := backends.ParseBackend(cfg.Backend)
	if err != nil {
		return err
	}
	backend := cpu.New()
	model := newSimpleCNN(cfg, backend)

	qm, names, err := mixprec.Quantize[*cpu.Backend](model, cnnInputShape, cfg.Quant)
	if err != nil {
		return err
	}
	fmt.Println(summaryTable(qm, names))

	nn.SetTraining[*cpu.Backend](qm, false)
	x := tensor.Randn(append(tensor.Shape{cfg.BatchSize}, cnnInputShape...), backend)
	fake := qm.Forward(x)

	im, err := backends.IntegerizeArch[*cpu.Backend](qm, target)
	if err != nil {
		return err
	}
	deployed := im.Forward(x)
	diff := maxAbsDiff(fake.Data(), deployed.Data())
	fmt.Println(summaryTable(im, names))
	klog.Infof("%s deployment of %d layers: max abs difference %g", target, len(names), diff)

	return saveModel(im, cfg.Output, cfg.Float16, map[string]string{
		"format":  "flexnas-integer",
		"backend": target.String(),
	})
}

func maxAbsDiff(a, b []float32) float64 {
	var m float64
	for i := range a {
		m = math.Max(m, math.Abs(float64(a[i]-b[i])))
	}
	return m
}
