// Package cpu implements the pure-Go CPU backend.
package cpu

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/parallel"
	"github.com/born-ml/flexnas/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
//
// Convolution and pooling kernels fan out over the batch x channel grid via
// the internal parallel package; everything else runs on the caller goroutine.
type CPUBackend struct {
	device   tensor.Device
	parallel parallel.Config
}

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{
		device:   tensor.CPU,
		parallel: parallel.DefaultConfig(),
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// SetParallel replaces the intra-op parallelism configuration.
func (cpu *CPUBackend) SetParallel(cfg parallel.Config) {
	cpu.parallel = cfg
}

func (cpu *CPUBackend) newRaw(op string, shape tensor.Shape) *tensor.RawTensor {
	result, err := tensor.NewRaw(shape, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return result
}
