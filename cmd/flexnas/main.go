// Package main provides the flexnas command line: a PIT/SuperNet search on a
// demo 1D network and a fake-quantization to integer deployment flow on a
// demo 2D network.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

var (
	flagConfig   = flag.String("config", "", "YAML file with the run settings.")
	flagSteps    = flag.Int("steps", 0, "Number of search steps.")
	flagLR       = flag.Float64("lr", 0, "Learning rate of the network weights.")
	flagOptim    = flag.String("optimizer", "", "Optimizer of the network weights: adam or sgd.")
	flagStrength = flag.Float64("strength", 0, "Weight of the size regularizer.")
	flagOut      = flag.String("out", "", "SafeTensors file to write the final model to.")
	flagBackend  = flag.String("backend", "", "Integer deployment backend: ONNX, DORY or DIANA.")
	flagF16      = flag.Bool("f16", false, "Store the saved tensors as float16.")
	flagSuperNet = flag.Bool("supernet", false, "Search between two kernel sizes for the second convolution.")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "flexnas %s\n\n", version)
	fmt.Fprintln(out, "Usage: flexnas <command> [flags]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  search     Run a channel and kernel search and export the result")
	fmt.Fprintln(out, "  quantize   Quantize and convert to integer layers")
	fmt.Fprintln(out, "  version    Show version")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Flags:")
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	check(flag.CommandLine.Parse(os.Args[2:]))

	var run func(*Config) error
	switch command {
	case "version":
		fmt.Printf("flexnas %s\n", version)
		return
	case "search":
		run = runSearch
	case "quantize":
		run = runQuantize
	default:
		usage()
		os.Exit(2)
	}

	err := exceptions.TryCatch[error](func() {
		cfg := check1(LoadConfig(*flagConfig))
		applyFlags(cfg)
		check(cfg.Validate())
		check(run(cfg))
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "steps":
			cfg.Steps = *flagSteps
		case "lr":
			cfg.LearningRate = float32(*flagLR)
		case "optimizer":
			cfg.Optimizer = *flagOptim
		case "strength":
			cfg.Strength = float32(*flagStrength)
		case "out":
			cfg.Output = *flagOut
		case "backend":
			cfg.Backend = *flagBackend
		case "f16":
			cfg.Float16 = *flagF16
		case "supernet":
			cfg.SuperNet = *flagSuperNet
		}
	})
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func check1[T any](v T, err error) T {
	check(err)
	return v
}
