package optim

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam implements the Adam optimizer with L2 weight decay. Moment buffers
// are allocated lazily per parameter name on the first step.
type Adam struct {
	lr          float64
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64

	step int
	m    map[string]*mat.Dense
	v    map[string]*mat.Dense
}

// AdamState is the serializable optimizer state for continue checkpoints.
type AdamState struct {
	LR   float64                `json:"lr"`
	Step int                    `json:"step"`
	M    map[string]TensorState `json:"m"`
	V    map[string]TensorState `json:"v"`
}

// NewAdam creates an Adam optimizer with the standard moment coefficients.
func NewAdam(lr, weightDecay float64) *Adam {
	return &Adam{
		lr:          lr,
		beta1:       0.9,
		beta2:       0.999,
		epsilon:     1e-8,
		weightDecay: weightDecay,
		m:           make(map[string]*mat.Dense),
		v:           make(map[string]*mat.Dense),
	}
}

// LR returns the current learning rate.
func (a *Adam) LR() float64 { return a.lr }

// SetLR overrides the current learning rate; schedulers call this per step.
func (a *Adam) SetLR(lr float64) { a.lr = lr }

// Beta2 exposes the second-moment coefficient for warmup period derivation.
func (a *Adam) Beta2() float64 { return a.beta2 }

// Step applies one Adam update to every parameter using its accumulated
// gradient. Gradients are not cleared; callers zero them per batch.
func (a *Adam) Step(params []*Parameter) {
	a.step++
	corr1 := 1 - math.Pow(a.beta1, float64(a.step))
	corr2 := 1 - math.Pow(a.beta2, float64(a.step))

	for _, p := range params {
		rows, cols := p.Value.Dims()
		m, ok := a.m[p.Name]
		if !ok {
			m = mat.NewDense(rows, cols, nil)
			a.m[p.Name] = m
			a.v[p.Name] = mat.NewDense(rows, cols, nil)
		}
		v := a.v[p.Name]

		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				g := p.Grad.At(r, c)
				if a.weightDecay != 0 {
					g += a.weightDecay * p.Value.At(r, c)
				}

				mv := a.beta1*m.At(r, c) + (1-a.beta1)*g
				vv := a.beta2*v.At(r, c) + (1-a.beta2)*g*g
				m.Set(r, c, mv)
				v.Set(r, c, vv)

				mHat := mv / corr1
				vHat := vv / corr2
				p.Value.Set(r, c, p.Value.At(r, c)-a.lr*mHat/(math.Sqrt(vHat)+a.epsilon))
			}
		}
	}
}

// StateDict snapshots the optimizer for continue checkpoints.
func (a *Adam) StateDict() AdamState {
	state := AdamState{
		LR:   a.lr,
		Step: a.step,
		M:    make(map[string]TensorState, len(a.m)),
		V:    make(map[string]TensorState, len(a.v)),
	}
	for name, m := range a.m {
		state.M[name] = ToState(m)
	}
	for name, v := range a.v {
		state.V[name] = ToState(v)
	}
	return state
}

// LoadStateDict restores a snapshot taken by StateDict.
func (a *Adam) LoadStateDict(state AdamState) error {
	a.lr = state.LR
	a.step = state.Step
	a.m = make(map[string]*mat.Dense, len(state.M))
	a.v = make(map[string]*mat.Dense, len(state.V))
	for name, ts := range state.M {
		m := mat.NewDense(ts.Rows, ts.Cols, nil)
		if err := ts.Restore(m); err != nil {
			return err
		}
		a.m[name] = m
	}
	for name, ts := range state.V {
		v := mat.NewDense(ts.Rows, ts.Cols, nil)
		if err := ts.Restore(v); err != nil {
			return err
		}
		a.v[name] = v
	}
	return nil
}
