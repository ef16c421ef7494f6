package forecast

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/internal/optim"
	"github.com/seqcast/seqcast/pkg/errors"
)

// mlpModel flattens the input window and runs it through a stack of hidden
// dense layers with dropout, projecting onto the full prediction horizon.
type mlpModel struct {
	opts   Options
	hidden []*dense
	drops  []*dropout
	out    *dense
	plist  []*optim.Parameter
}

func newMLP(cfg StackConfig, opts Options) (*mlpModel, error) {
	if cfg.Layers < 1 || cfg.Hidden < 1 {
		return nil, errors.NewValidationError("INVALID_CONFIG",
			fmt.Sprintf("mlp needs positive layers and hidden size, got %d/%d", cfg.Layers, cfg.Hidden))
	}

	m := &mlpModel{opts: opts}
	in := opts.SeqLen * opts.InputSize
	for l := 0; l < cfg.Layers; l++ {
		m.hidden = append(m.hidden, newDense(opts.Rand, fmt.Sprintf("hidden%d", l), in, cfg.Hidden, actReLU))
		m.drops = append(m.drops, newDropout(opts.Rand, opts.Dropout))
		in = cfg.Hidden
	}
	m.out = newDense(opts.Rand, "out", in, opts.Horizon*opts.OutputSize, actLinear)

	for _, d := range m.hidden {
		m.plist = append(m.plist, d.params()...)
	}
	m.plist = append(m.plist, m.out.params()...)
	return m, nil
}

func (m *mlpModel) Family() Family { return FamilyMLP }

func (m *mlpModel) Forward(sample *mat.Dense) *mat.Dense {
	v := flattenMatrix(sample)
	for l, d := range m.hidden {
		v = m.drops[l].forward(d.forward(v))
	}
	return reshapeToMatrix(m.out.forward(v), m.opts.Horizon, m.opts.OutputSize)
}

func (m *mlpModel) Backward(outputGrad *mat.Dense) {
	dv := m.out.backward(flattenMatrix(outputGrad))
	for l := len(m.hidden) - 1; l >= 0; l-- {
		dv = m.hidden[l].backward(m.drops[l].backward(dv))
	}
}

func (m *mlpModel) Parameters() []*optim.Parameter { return m.plist }
func (m *mlpModel) ZeroGrad()                      { zeroGrads(m.plist) }

func (m *mlpModel) SetTraining(training bool) {
	for _, dr := range m.drops {
		dr.training = training
	}
}

func (m *mlpModel) StateDict() map[string]optim.TensorState { return stateDict(m.plist) }
func (m *mlpModel) LoadStateDict(state map[string]optim.TensorState) error {
	return loadStateDict(m.plist, state)
}
