package forecast

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/internal/optim"
	"github.com/seqcast/seqcast/pkg/constants"
	"github.com/seqcast/seqcast/pkg/errors"
)

// cell is one recurrent layer processed step by step. Implementations cache
// whatever the matching backStep needs; the stack replays steps in reverse.
type cell interface {
	step(x, hPrev *mat.Dense) (h *mat.Dense, cache interface{})
	backStep(cache interface{}, dh *mat.Dense) (dx, dhPrev *mat.Dense)
	params() []*optim.Parameter
	hiddenSize() int

	// resetForward clears per-sequence forward state (the LSTM cell state).
	resetForward()
	// resetBackward clears per-sequence backward state before BPTT.
	resetBackward()
}

func newCell(rng *rand.Rand, kind, name string, in, hidden int) (cell, error) {
	switch kind {
	case constants.CellLSTM:
		return newLSTMCell(rng, name, in, hidden), nil
	case constants.CellGRU:
		return newGRUCell(rng, name, in, hidden), nil
	case constants.CellElman:
		return newElmanCell(rng, name, in, hidden), nil
	}
	return nil, errors.NewValidationError("UNKNOWN_CELL",
		fmt.Sprintf("recurrent cell %q is not one of lstm, gru, elman", kind))
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

func mapVec(v *mat.Dense, f func(float64) float64) *mat.Dense {
	n, _ := v.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, f(v.At(i, 0)))
	}
	return out
}

func hadamard(a, b *mat.Dense) *mat.Dense {
	n, _ := a.Dims()
	out := mat.NewDense(n, 1, nil)
	out.MulElem(a, b)
	return out
}

func zeroVec(n int) *mat.Dense { return mat.NewDense(n, 1, nil) }

// gate bundles the input weight, recurrent weight, and bias of one gate and
// accumulates their gradients.
type gate struct {
	wx *optim.Parameter // hidden × in
	wh *optim.Parameter // hidden × hidden
	b  *optim.Parameter // hidden × 1
}

func newGate(rng *rand.Rand, name string, in, hidden int) gate {
	return gate{
		wx: newWeight(rng, name+".wx", hidden, in),
		wh: newWeight(rng, name+".wh", hidden, hidden),
		b:  newBias(name+".b", hidden),
	}
}

// pre computes wx*x + wh*h + b.
func (g gate) pre(x, h *mat.Dense) *mat.Dense {
	n, _ := g.b.Value.Dims()
	out := mat.NewDense(n, 1, nil)
	out.Mul(g.wx.Value, x)
	var rec mat.Dense
	rec.Mul(g.wh.Value, h)
	out.Add(out, &rec)
	out.Add(out, g.b.Value)
	return out
}

// accumulate adds this gate's share of the gradients given the gradient of
// its pre-activation, and folds its contributions into dx and dhPrev.
func (g gate) accumulate(da, x, hPrev, dx, dhPrev *mat.Dense) {
	var dwx, dwh mat.Dense
	dwx.Mul(da, x.T())
	dwh.Mul(da, hPrev.T())
	g.wx.Grad.Add(g.wx.Grad, &dwx)
	g.wh.Grad.Add(g.wh.Grad, &dwh)
	g.b.Grad.Add(g.b.Grad, da)

	var dxPart, dhPart mat.Dense
	dxPart.Mul(g.wx.Value.T(), da)
	dhPart.Mul(g.wh.Value.T(), da)
	dx.Add(dx, &dxPart)
	dhPrev.Add(dhPrev, &dhPart)
}

func (g gate) params() []*optim.Parameter {
	return []*optim.Parameter{g.wx, g.wh, g.b}
}

// elmanCell: h' = tanh(wx*x + wh*h + b).
type elmanCell struct {
	g      gate
	in     int
	hidden int
}

type elmanCache struct {
	x, hPrev, h *mat.Dense
}

func newElmanCell(rng *rand.Rand, name string, in, hidden int) *elmanCell {
	return &elmanCell{g: newGate(rng, name, in, hidden), in: in, hidden: hidden}
}

func (c *elmanCell) hiddenSize() int { return c.hidden }
func (c *elmanCell) resetForward()   {}
func (c *elmanCell) resetBackward()  {}

func (c *elmanCell) step(x, hPrev *mat.Dense) (*mat.Dense, interface{}) {
	h := mapVec(c.g.pre(x, hPrev), math.Tanh)
	return h, &elmanCache{x: x, hPrev: hPrev, h: h}
}

func (c *elmanCell) backStep(cache interface{}, dh *mat.Dense) (*mat.Dense, *mat.Dense) {
	cc := cache.(*elmanCache)
	da := mat.NewDense(c.hidden, 1, nil)
	for i := 0; i < c.hidden; i++ {
		h := cc.h.At(i, 0)
		da.Set(i, 0, dh.At(i, 0)*(1-h*h))
	}
	dx := zeroVec(c.in)
	dhPrev := zeroVec(c.hidden)
	c.g.accumulate(da, cc.x, cc.hPrev, dx, dhPrev)
	return dx, dhPrev
}

func (c *elmanCell) params() []*optim.Parameter { return c.g.params() }

// gruCell: z = sigma(pre_z), r = sigma(pre_r), n = tanh(wx_n*x + wh_n*(r.h) + b),
// h' = (1-z).h + z.n.
type gruCell struct {
	gz, gr, gn gate
	in         int
	hidden     int
}

type gruCache struct {
	x, hPrev    *mat.Dense
	z, r, n, rh *mat.Dense
}

func newGRUCell(rng *rand.Rand, name string, in, hidden int) *gruCell {
	return &gruCell{
		gz:     newGate(rng, name+".z", in, hidden),
		gr:     newGate(rng, name+".r", in, hidden),
		gn:     newGate(rng, name+".n", in, hidden),
		in:     in,
		hidden: hidden,
	}
}

func (c *gruCell) hiddenSize() int { return c.hidden }
func (c *gruCell) resetForward()   {}
func (c *gruCell) resetBackward()  {}

func (c *gruCell) step(x, hPrev *mat.Dense) (*mat.Dense, interface{}) {
	z := mapVec(c.gz.pre(x, hPrev), sigmoid)
	r := mapVec(c.gr.pre(x, hPrev), sigmoid)
	rh := hadamard(r, hPrev)
	n := mapVec(c.gn.pre(x, rh), math.Tanh)

	h := mat.NewDense(c.hidden, 1, nil)
	for i := 0; i < c.hidden; i++ {
		zi := z.At(i, 0)
		h.Set(i, 0, (1-zi)*hPrev.At(i, 0)+zi*n.At(i, 0))
	}
	return h, &gruCache{x: x, hPrev: hPrev, z: z, r: r, n: n, rh: rh}
}

func (c *gruCell) backStep(cache interface{}, dh *mat.Dense) (*mat.Dense, *mat.Dense) {
	cc := cache.(*gruCache)
	dx := zeroVec(c.in)
	dhPrev := zeroVec(c.hidden)

	dan := mat.NewDense(c.hidden, 1, nil)
	daz := mat.NewDense(c.hidden, 1, nil)
	for i := 0; i < c.hidden; i++ {
		g := dh.At(i, 0)
		z := cc.z.At(i, 0)
		n := cc.n.At(i, 0)
		hp := cc.hPrev.At(i, 0)

		dhPrev.Set(i, 0, g*(1-z))
		dan.Set(i, 0, g*z*(1-n*n))
		daz.Set(i, 0, g*(n-hp)*z*(1-z))
	}

	// Candidate gate: input side uses x, recurrent side uses r.hPrev.
	drh := zeroVec(c.hidden)
	c.gn.accumulate(dan, cc.x, cc.rh, dx, drh)
	// accumulate folded wh_n^T*dan into drh via the dhPrev slot; split it
	// back into the reset gate and the carried hidden gradient.
	dar := mat.NewDense(c.hidden, 1, nil)
	for i := 0; i < c.hidden; i++ {
		r := cc.r.At(i, 0)
		dhPrev.Set(i, 0, dhPrev.At(i, 0)+drh.At(i, 0)*r)
		dar.Set(i, 0, drh.At(i, 0)*cc.hPrev.At(i, 0)*r*(1-r))
	}

	c.gz.accumulate(daz, cc.x, cc.hPrev, dx, dhPrev)
	c.gr.accumulate(dar, cc.x, cc.hPrev, dx, dhPrev)
	return dx, dhPrev
}

func (c *gruCell) params() []*optim.Parameter {
	out := c.gz.params()
	out = append(out, c.gr.params()...)
	out = append(out, c.gn.params()...)
	return out
}

// lstmCell: standard LSTM with forget, input, output gates and a cell state
// carried across the sequence.
type lstmCell struct {
	gi, gf, go_, gg gate
	in              int
	hidden          int

	cState *mat.Dense // forward cell state
	dcNext *mat.Dense // backward cell-state gradient
}

type lstmCache struct {
	x, hPrev, cPrev *mat.Dense
	i, f, o, g, c   *mat.Dense
}

func newLSTMCell(rng *rand.Rand, name string, in, hidden int) *lstmCell {
	return &lstmCell{
		gi:     newGate(rng, name+".i", in, hidden),
		gf:     newGate(rng, name+".f", in, hidden),
		go_:    newGate(rng, name+".o", in, hidden),
		gg:     newGate(rng, name+".g", in, hidden),
		in:     in,
		hidden: hidden,
	}
}

func (c *lstmCell) hiddenSize() int { return c.hidden }
func (c *lstmCell) resetForward()   { c.cState = zeroVec(c.hidden) }
func (c *lstmCell) resetBackward()  { c.dcNext = zeroVec(c.hidden) }

func (c *lstmCell) step(x, hPrev *mat.Dense) (*mat.Dense, interface{}) {
	if c.cState == nil {
		c.cState = zeroVec(c.hidden)
	}
	cPrev := c.cState

	i := mapVec(c.gi.pre(x, hPrev), sigmoid)
	f := mapVec(c.gf.pre(x, hPrev), sigmoid)
	o := mapVec(c.go_.pre(x, hPrev), sigmoid)
	g := mapVec(c.gg.pre(x, hPrev), math.Tanh)

	cNew := mat.NewDense(c.hidden, 1, nil)
	h := mat.NewDense(c.hidden, 1, nil)
	for k := 0; k < c.hidden; k++ {
		cv := f.At(k, 0)*cPrev.At(k, 0) + i.At(k, 0)*g.At(k, 0)
		cNew.Set(k, 0, cv)
		h.Set(k, 0, o.At(k, 0)*math.Tanh(cv))
	}
	c.cState = cNew
	return h, &lstmCache{x: x, hPrev: hPrev, cPrev: cPrev, i: i, f: f, o: o, g: g, c: cNew}
}

func (c *lstmCell) backStep(cache interface{}, dh *mat.Dense) (*mat.Dense, *mat.Dense) {
	cc := cache.(*lstmCache)
	if c.dcNext == nil {
		c.dcNext = zeroVec(c.hidden)
	}

	dai := mat.NewDense(c.hidden, 1, nil)
	daf := mat.NewDense(c.hidden, 1, nil)
	dao := mat.NewDense(c.hidden, 1, nil)
	dag := mat.NewDense(c.hidden, 1, nil)
	dcPrev := mat.NewDense(c.hidden, 1, nil)

	for k := 0; k < c.hidden; k++ {
		tc := math.Tanh(cc.c.At(k, 0))
		i := cc.i.At(k, 0)
		f := cc.f.At(k, 0)
		o := cc.o.At(k, 0)
		g := cc.g.At(k, 0)

		dhk := dh.At(k, 0)
		dc := c.dcNext.At(k, 0) + dhk*o*(1-tc*tc)

		dai.Set(k, 0, dc*g*i*(1-i))
		daf.Set(k, 0, dc*cc.cPrev.At(k, 0)*f*(1-f))
		dao.Set(k, 0, dhk*tc*o*(1-o))
		dag.Set(k, 0, dc*i*(1-g*g))
		dcPrev.Set(k, 0, dc*f)
	}
	c.dcNext = dcPrev

	dx := zeroVec(c.in)
	dhPrev := zeroVec(c.hidden)
	c.gi.accumulate(dai, cc.x, cc.hPrev, dx, dhPrev)
	c.gf.accumulate(daf, cc.x, cc.hPrev, dx, dhPrev)
	c.go_.accumulate(dao, cc.x, cc.hPrev, dx, dhPrev)
	c.gg.accumulate(dag, cc.x, cc.hPrev, dx, dhPrev)
	return dx, dhPrev
}

func (c *lstmCell) params() []*optim.Parameter {
	out := c.gi.params()
	out = append(out, c.gf.params()...)
	out = append(out, c.go_.params()...)
	out = append(out, c.gg.params()...)
	return out
}

// recurrentStack runs a stack of recurrent layers over a (steps × features)
// sample and exposes the final top-layer hidden state. Backward propagates
// a gradient on that final state through every layer and time step.
type recurrentStack struct {
	cells  []cell
	inF    int
	caches [][]interface{} // [step][layer]
	steps  int
}

func newRecurrentStack(rng *rand.Rand, kind, name string, in, hidden, layers int) (*recurrentStack, error) {
	if layers < 1 {
		return nil, errors.NewValidationError("INVALID_LAYERS",
			fmt.Sprintf("recurrent stack needs at least one layer, got %d", layers))
	}
	cells := make([]cell, layers)
	for l := 0; l < layers; l++ {
		layerIn := in
		if l > 0 {
			layerIn = hidden
		}
		c, err := newCell(rng, kind, fmt.Sprintf("%s.layer%d", name, l), layerIn, hidden)
		if err != nil {
			return nil, err
		}
		cells[l] = c
	}
	return &recurrentStack{cells: cells, inF: in}, nil
}

func (s *recurrentStack) hiddenSize() int { return s.cells[len(s.cells)-1].hiddenSize() }

func (s *recurrentStack) forward(x *mat.Dense) *mat.Dense {
	steps, _ := x.Dims()
	s.steps = steps
	s.caches = make([][]interface{}, steps)

	h := make([]*mat.Dense, len(s.cells))
	for l, c := range s.cells {
		c.resetForward()
		h[l] = zeroVec(c.hiddenSize())
	}

	for t := 0; t < steps; t++ {
		s.caches[t] = make([]interface{}, len(s.cells))
		input := colFromRow(x, t)
		for l, c := range s.cells {
			var cache interface{}
			h[l], cache = c.step(input, h[l])
			s.caches[t][l] = cache
			input = h[l]
		}
	}
	return h[len(h)-1]
}

// backward runs BPTT from a gradient on the final hidden state and returns
// the gradient with respect to the stack's input sample.
func (s *recurrentStack) backward(dhFinal *mat.Dense) *mat.Dense {
	top := len(s.cells) - 1
	dh := make([]*mat.Dense, len(s.cells))
	for l, c := range s.cells {
		c.resetBackward()
		dh[l] = zeroVec(c.hiddenSize())
	}
	dh[top].Add(dh[top], dhFinal)

	dx := mat.NewDense(s.steps, s.inF, nil)
	for t := s.steps - 1; t >= 0; t-- {
		for l := top; l >= 0; l-- {
			dxl, dhPrev := s.cells[l].backStep(s.caches[t][l], dh[l])
			dh[l] = dhPrev
			if l > 0 {
				dh[l-1].Add(dh[l-1], dxl)
			} else {
				for f := 0; f < s.inF; f++ {
					dx.Set(t, f, dx.At(t, f)+dxl.At(f, 0))
				}
			}
		}
	}
	return dx
}

func (s *recurrentStack) params() []*optim.Parameter {
	var out []*optim.Parameter
	for _, c := range s.cells {
		out = append(out, c.params()...)
	}
	return out
}
