package train

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/internal/tensor"
)

// elementCount returns the number of scalar elements across a batch of
// equally-shaped matrices.
func elementCount(b tensor.Batch) int {
	if len(b) == 0 {
		return 0
	}
	rows, cols := b[0].Dims()
	return len(b) * rows * cols
}

// squaredError sums (pred-target)^2 over all elements of one sample.
func squaredError(pred, target *mat.Dense) float64 {
	rows, cols := pred.Dims()
	sum := 0.0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d := pred.At(r, c) - target.At(r, c)
			sum += d * d
		}
	}
	return sum
}

// absError sums |pred-target| over all elements of one sample.
func absError(pred, target *mat.Dense) float64 {
	rows, cols := pred.Dims()
	sum := 0.0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			sum += math.Abs(pred.At(r, c) - target.At(r, c))
		}
	}
	return sum
}

// lossGrad computes the gradient of the batch-mean squared error with
// respect to one sample's prediction: 2*(pred-target)/n where n is the total
// element count of the batch.
func lossGrad(pred, target *mat.Dense, n int) *mat.Dense {
	rows, cols := pred.Dims()
	grad := mat.NewDense(rows, cols, nil)
	scale := 2 / float64(n)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			grad.Set(r, c, scale*(pred.At(r, c)-target.At(r, c)))
		}
	}
	return grad
}
