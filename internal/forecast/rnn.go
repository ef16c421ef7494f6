package forecast

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/internal/optim"
	"github.com/seqcast/seqcast/pkg/errors"
)

// rnnModel encodes the window with a recurrent stack and decodes the final
// hidden state onto the prediction horizon through a single projection.
type rnnModel struct {
	opts  Options
	stack *recurrentStack
	drop  *dropout
	out   *dense
	plist []*optim.Parameter
}

func newRNN(cfg StackConfig, opts Options) (*rnnModel, error) {
	if cfg.Layers < 1 || cfg.Hidden < 1 {
		return nil, errors.NewValidationError("INVALID_CONFIG",
			fmt.Sprintf("rnn needs positive layers and hidden size, got %d/%d", cfg.Layers, cfg.Hidden))
	}

	stack, err := newRecurrentStack(opts.Rand, opts.Cell, "rnn", opts.InputSize, cfg.Hidden, cfg.Layers)
	if err != nil {
		return nil, err
	}

	m := &rnnModel{
		opts:  opts,
		stack: stack,
		drop:  newDropout(opts.Rand, opts.Dropout),
		out:   newDense(opts.Rand, "out", cfg.Hidden, opts.Horizon*opts.OutputSize, actLinear),
	}
	m.plist = append(m.plist, stack.params()...)
	m.plist = append(m.plist, m.out.params()...)
	return m, nil
}

func (m *rnnModel) Family() Family { return FamilyRNN }

func (m *rnnModel) Forward(sample *mat.Dense) *mat.Dense {
	h := m.drop.forward(m.stack.forward(sample))
	return reshapeToMatrix(m.out.forward(h), m.opts.Horizon, m.opts.OutputSize)
}

func (m *rnnModel) Backward(outputGrad *mat.Dense) {
	dh := m.drop.backward(m.out.backward(flattenMatrix(outputGrad)))
	m.stack.backward(dh)
}

func (m *rnnModel) Parameters() []*optim.Parameter { return m.plist }
func (m *rnnModel) ZeroGrad()                      { zeroGrads(m.plist) }
func (m *rnnModel) SetTraining(training bool)      { m.drop.training = training }

func (m *rnnModel) StateDict() map[string]optim.TensorState { return stateDict(m.plist) }
func (m *rnnModel) LoadStateDict(state map[string]optim.TensorState) error {
	return loadStateDict(m.plist, state)
}
