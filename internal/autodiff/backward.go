package autodiff

import "github.com/born-ml/flexnas/internal/tensor"

// BackwardCapable is an interface for backends that support backward pass.
// AutodiffBackend implements this interface.
type BackwardCapable interface {
	tensor.Backend

	// GetTape returns the gradient tape for backward computation.
	GetTape() *GradientTape
}

// GetTape returns the gradient tape (implements BackwardCapable interface).
func (b *AutodiffBackend[B]) GetTape() *GradientTape {
	return b.tape
}

// Backward computes gradients of t (seeded with ones) using the backend's tape.
//
// Returns a map from RawTensor to its gradient.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x := tensor.Ones(tensor.Shape{2}, backend)
//	y := x.Mul(x) // y = x²
//	gradients := autodiff.Backward(y, backend)
//	grad := gradients[x.Raw()] // Get gradient for x
func Backward[B BackwardCapable](t *tensor.Tensor[B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	tape := backend.GetTape()
	if tape.NumOps() == 0 {
		panic("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}
	seed := tensor.Ones(t.Shape(), backend)
	return tape.Backward(t.Raw(), seed.Raw(), backend)
}

// PauseRecording stops tape recording on backends that have a tape and returns
// a function restoring the previous state. For other backends it is a no-op.
func PauseRecording(backend tensor.Backend) func() {
	if bc, ok := backend.(BackwardCapable); ok {
		return bc.GetTape().Pause()
	}
	return func() {}
}
