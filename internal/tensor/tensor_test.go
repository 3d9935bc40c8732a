package tensor_test

import (
	"testing"

	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/tensor"
)

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b, want tensor.Shape
		ok         bool
	}{
		{tensor.Shape{3, 1}, tensor.Shape{3, 5}, tensor.Shape{3, 5}, true},
		{tensor.Shape{5}, tensor.Shape{2, 5}, tensor.Shape{2, 5}, true},
		{tensor.Shape{3, 4}, tensor.Shape{3, 5}, nil, false},
	}
	for _, tt := range tests {
		got, _, err := tensor.BroadcastShapes(tt.a, tt.b)
		if (err == nil) != tt.ok {
			t.Errorf("BroadcastShapes(%v, %v) error = %v", tt.a, tt.b, err)
			continue
		}
		if tt.ok && !got.Equal(tt.want) {
			t.Errorf("BroadcastShapes(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestShapeHelpers(t *testing.T) {
	s := tensor.Shape{8, 4, 3, 5}
	if s.Features() != 4 || s.Spatial() != 15 {
		t.Errorf("Features/Spatial = %d/%d", s.Features(), s.Spatial())
	}
	if got := s.NormalizeDim(-1); got != 3 {
		t.Errorf("NormalizeDim(-1) = %d", got)
	}
}

func TestReshapeInfersDimension(t *testing.T) {
	b := cpu.New()
	x := tensor.Zeros(tensor.Shape{2, 3, 4}, b)
	if got := x.Reshape(2, -1).Shape(); !got.Equal(tensor.Shape{2, 12}) {
		t.Errorf("Reshape(2, -1) = %v", got)
	}
	if got := x.Flatten().Shape(); !got.Equal(tensor.Shape{2, 12}) {
		t.Errorf("Flatten() = %v", got)
	}
}

func TestStack(t *testing.T) {
	b := cpu.New()
	sample := tensor.MustFromSlice([]float32{1, 2}, tensor.Shape{2}, b)
	batch := tensor.Stack(sample, 3)
	if !batch.Shape().Equal(tensor.Shape{3, 2}) {
		t.Fatalf("shape %v", batch.Shape())
	}
	for i, v := range []float32{1, 2, 1, 2, 1, 2} {
		if batch.Data()[i] != v {
			t.Fatalf("data %v", batch.Data())
		}
	}
}

func TestDetachHasNewIdentity(t *testing.T) {
	b := cpu.New()
	x := tensor.Ones(tensor.Shape{2}, b)
	if x.Detach().Raw() == x.Raw() {
		t.Fatal("Detach must not share the RawTensor")
	}
}
