package forecast

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestDenseGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d := newDense(rng, "fc", 3, 2, actTanh)
	x := mat.NewDense(3, 1, []float64{0.5, -0.2, 0.1})

	// Scalar objective: sum of outputs. Its gradient w.r.t. the output is
	// all ones, so backward yields analytic parameter gradients to compare
	// against central differences.
	objective := func() float64 {
		out := d.forward(x)
		return mat.Sum(out)
	}

	_ = objective()
	d.backward(mat.NewDense(2, 1, []float64{1, 1}))

	const eps = 1e-6
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			orig := d.w.Value.At(r, c)
			d.w.Value.Set(r, c, orig+eps)
			plus := objective()
			d.w.Value.Set(r, c, orig-eps)
			minus := objective()
			d.w.Value.Set(r, c, orig)

			numeric := (plus - minus) / (2 * eps)
			assert.InDelta(t, numeric, d.w.Grad.At(r, c), 1e-5,
				"weight (%d,%d)", r, c)
		}
	}
}

func TestConv1DOutputShape(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	cv := newConv1D(rng, "conv", 2, 4, 3, actReLU)

	x := mat.NewDense(10, 2, nil)
	out := cv.forward(x)
	rows, cols := out.Dims()
	assert.Equal(t, 8, rows)
	assert.Equal(t, 4, cols)
}

func TestConv1DIdentityKernel(t *testing.T) {
	// A kernel of width 1 with an identity weight and no activation must
	// reproduce its input channel.
	rng := rand.New(rand.NewSource(3))
	cv := newConv1D(rng, "conv", 1, 1, 1, actLinear)
	cv.w.Value.Set(0, 0, 1)
	cv.b.Value.Set(0, 0, 0)

	x := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	out := cv.forward(x)
	assert.True(t, mat.EqualApprox(x, out, 1e-12))
}

func TestConv1DBackwardAccumulates(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	cv := newConv1D(rng, "conv", 2, 3, 2, actLinear)

	x := mat.NewDense(6, 2, []float64{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	})
	out := cv.forward(x)
	rows, cols := out.Dims()

	ones := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			ones.Set(r, c, 1)
		}
	}
	dx := cv.backward(ones)

	inRows, inCols := dx.Dims()
	assert.Equal(t, 6, inRows)
	assert.Equal(t, 2, inCols)
	assert.Greater(t, mat.Norm(cv.w.Grad, 2), 0.0)
	assert.Greater(t, mat.Norm(cv.b.Grad, 2), 0.0)
}

func TestDropoutInferenceIsIdentity(t *testing.T) {
	dr := newDropout(rand.New(rand.NewSource(5)), 0.9)
	dr.training = false

	x := mat.NewDense(3, 3, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	assert.Same(t, x, dr.forward(x))
}

func TestDropoutTrainingMasksAndRescales(t *testing.T) {
	dr := newDropout(rand.New(rand.NewSource(6)), 0.5)
	dr.training = true

	x := mat.NewDense(20, 20, nil)
	for r := 0; r < 20; r++ {
		for c := 0; c < 20; c++ {
			x.Set(r, c, 1)
		}
	}
	out := dr.forward(x)

	zeros, doubled := 0, 0
	for r := 0; r < 20; r++ {
		for c := 0; c < 20; c++ {
			switch out.At(r, c) {
			case 0:
				zeros++
			case 2:
				doubled++
			}
		}
	}
	// Inverted dropout keeps roughly half the units scaled by 1/keep.
	assert.Equal(t, 400, zeros+doubled)
	assert.InDelta(t, 200, zeros, 60)

	// Backward passes gradient only through kept units.
	grad := dr.backward(x)
	for r := 0; r < 20; r++ {
		for c := 0; c < 20; c++ {
			if out.At(r, c) == 0 {
				assert.Zero(t, grad.At(r, c))
			}
		}
	}
}

func TestReshapeFlattenRoundTrip(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	flat := flattenMatrix(m)

	rows, cols := flat.Dims()
	require.Equal(t, 6, rows)
	require.Equal(t, 1, cols)
	assert.Equal(t, 4.0, flat.At(3, 0))

	back := reshapeToMatrix(flat, 2, 3)
	assert.True(t, mat.EqualApprox(m, back, 1e-12))
}

func TestColFromRow(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	col := colFromRow(m, 1)

	rows, cols := col.Dims()
	require.Equal(t, 3, rows)
	require.Equal(t, 1, cols)
	assert.Equal(t, 5.0, col.At(1, 0))
}
