package forecast

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/internal/optim"
)

// Activation function tags shared by dense and convolutional layers.
const (
	actLinear = ""
	actReLU   = "relu"
	actTanh   = "tanh"
)

func applyActivation(act string, m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := m.At(r, c)
			switch act {
			case actReLU:
				if v < 0 {
					v = 0
				}
			case actTanh:
				v = math.Tanh(v)
			}
			out.Set(r, c, v)
		}
	}
	return out
}

// activationGrad scales upstream gradients by the activation derivative,
// evaluated from the cached pre-activation.
func activationGrad(act string, pre, dOut *mat.Dense) *mat.Dense {
	rows, cols := dOut.Dims()
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			g := dOut.At(r, c)
			switch act {
			case actReLU:
				if pre.At(r, c) <= 0 {
					g = 0
				}
			case actTanh:
				t := math.Tanh(pre.At(r, c))
				g *= 1 - t*t
			}
			out.Set(r, c, g)
		}
	}
	return out
}

// dense is a fully connected layer on column vectors with an optional fused
// activation. It caches one forward pass for the matching backward call.
type dense struct {
	w   *optim.Parameter // out × in
	b   *optim.Parameter // out × 1
	act string

	lastIn  *mat.Dense
	lastPre *mat.Dense
}

func newDense(rng *rand.Rand, name string, in, out int, act string) *dense {
	return &dense{
		w:   newWeight(rng, name+".weight", out, in),
		b:   newBias(name+".bias", out),
		act: act,
	}
}

func (d *dense) forward(x *mat.Dense) *mat.Dense {
	out, _ := d.w.Value.Dims()
	pre := mat.NewDense(out, 1, nil)
	pre.Mul(d.w.Value, x)
	pre.Add(pre, d.b.Value)

	d.lastIn = x
	d.lastPre = pre
	return applyActivation(d.act, pre)
}

func (d *dense) backward(dOut *mat.Dense) *mat.Dense {
	da := activationGrad(d.act, d.lastPre, dOut)

	var dw mat.Dense
	dw.Mul(da, d.lastIn.T())
	d.w.Grad.Add(d.w.Grad, &dw)
	d.b.Grad.Add(d.b.Grad, da)

	in, _ := d.lastIn.Dims()
	dx := mat.NewDense(in, 1, nil)
	dx.Mul(d.w.Value.T(), da)
	return dx
}

func (d *dense) params() []*optim.Parameter {
	return []*optim.Parameter{d.w, d.b}
}

// conv1d convolves over the time axis of a (steps × features) sample,
// treating features as input channels. Output is (steps-kernel+1 × channels).
type conv1d struct {
	w      *optim.Parameter // channels × kernel*features
	b      *optim.Parameter // channels × 1
	kernel int
	inF    int
	outC   int
	act    string

	lastIn  *mat.Dense
	lastPre *mat.Dense
}

func newConv1D(rng *rand.Rand, name string, inF, outC, kernel int, act string) *conv1d {
	return &conv1d{
		w:      newWeight(rng, name+".weight", outC, kernel*inF),
		b:      newBias(name+".bias", outC),
		kernel: kernel,
		inF:    inF,
		outC:   outC,
		act:    act,
	}
}

func (cv *conv1d) outSteps(inSteps int) int {
	return inSteps - cv.kernel + 1
}

func (cv *conv1d) forward(x *mat.Dense) *mat.Dense {
	steps, _ := x.Dims()
	outSteps := cv.outSteps(steps)
	pre := mat.NewDense(outSteps, cv.outC, nil)

	for t := 0; t < outSteps; t++ {
		for c := 0; c < cv.outC; c++ {
			sum := cv.b.Value.At(c, 0)
			for dt := 0; dt < cv.kernel; dt++ {
				for f := 0; f < cv.inF; f++ {
					sum += cv.w.Value.At(c, dt*cv.inF+f) * x.At(t+dt, f)
				}
			}
			pre.Set(t, c, sum)
		}
	}

	cv.lastIn = x
	cv.lastPre = pre
	return applyActivation(cv.act, pre)
}

func (cv *conv1d) backward(dOut *mat.Dense) *mat.Dense {
	da := activationGrad(cv.act, cv.lastPre, dOut)
	steps, _ := cv.lastIn.Dims()
	outSteps, _ := da.Dims()

	dx := mat.NewDense(steps, cv.inF, nil)
	for t := 0; t < outSteps; t++ {
		for c := 0; c < cv.outC; c++ {
			g := da.At(t, c)
			if g == 0 {
				continue
			}
			cv.b.Grad.Set(c, 0, cv.b.Grad.At(c, 0)+g)
			for dt := 0; dt < cv.kernel; dt++ {
				for f := 0; f < cv.inF; f++ {
					idx := dt*cv.inF + f
					cv.w.Grad.Set(c, idx, cv.w.Grad.At(c, idx)+g*cv.lastIn.At(t+dt, f))
					dx.Set(t+dt, f, dx.At(t+dt, f)+g*cv.w.Value.At(c, idx))
				}
			}
		}
	}
	return dx
}

func (cv *conv1d) params() []*optim.Parameter {
	return []*optim.Parameter{cv.w, cv.b}
}

// dropout applies an inverted dropout mask during training and is the
// identity in inference mode.
type dropout struct {
	rate     float64
	rng      *rand.Rand
	training bool

	lastMask *mat.Dense
}

func newDropout(rng *rand.Rand, rate float64) *dropout {
	return &dropout{rate: rate, rng: rng}
}

func (dr *dropout) forward(x *mat.Dense) *mat.Dense {
	if !dr.training || dr.rate <= 0 {
		dr.lastMask = nil
		return x
	}
	rows, cols := x.Dims()
	mask := mat.NewDense(rows, cols, nil)
	out := mat.NewDense(rows, cols, nil)
	keep := 1 - dr.rate
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if dr.rng.Float64() < keep {
				m := 1 / keep
				mask.Set(r, c, m)
				out.Set(r, c, x.At(r, c)*m)
			}
		}
	}
	dr.lastMask = mask
	return out
}

func (dr *dropout) backward(dOut *mat.Dense) *mat.Dense {
	if dr.lastMask == nil {
		return dOut
	}
	rows, cols := dOut.Dims()
	dx := mat.NewDense(rows, cols, nil)
	dx.MulElem(dOut, dr.lastMask)
	return dx
}

// colFromRow extracts row r of m as a column vector.
func colFromRow(m *mat.Dense, r int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(cols, 1, nil)
	for c := 0; c < cols; c++ {
		out.Set(c, 0, m.At(r, c))
	}
	return out
}

// reshapeToMatrix views a flat (rows*cols × 1) vector as a rows×cols matrix.
func reshapeToMatrix(v *mat.Dense, rows, cols int) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.Set(r, c, v.At(r*cols+c, 0))
		}
	}
	return out
}

// flattenMatrix views a rows×cols matrix as a (rows*cols × 1) vector.
func flattenMatrix(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows*cols, 1, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.Set(r*cols+c, 0, m.At(r, c))
		}
	}
	return out
}

func shapeString(m *mat.Dense) string {
	r, c := m.Dims()
	return fmt.Sprintf("%dx%d", r, c)
}
