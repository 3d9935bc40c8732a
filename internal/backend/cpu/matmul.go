package cpu

import (
	"fmt"

	"github.com/born-ml/flexnas/internal/tensor"
)

// MatMul performs 2D matrix multiplication: (M, K) @ (K, N) -> (M, N).
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		panic(fmt.Sprintf("matmul: expected 2D tensors, got %v and %v", as, bs))
	}
	m, k, n := as[0], as[1], bs[1]
	if bs[0] != k {
		panic(fmt.Sprintf("matmul: inner dimensions mismatch: %v @ %v", as, bs))
	}

	result := cpu.newRaw("matmul", tensor.Shape{m, n})
	out, ad, bd := result.Data(), a.Data(), b.Data()

	// i-k-j loop order keeps the inner loop contiguous for both b and out.
	for i := 0; i < m; i++ {
		row := out[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := ad[i*k+p]
			if av == 0 {
				continue
			}
			bRow := bd[p*n : (p+1)*n]
			for j := range row {
				row[j] += av * bRow[j]
			}
		}
	}
	return result
}
