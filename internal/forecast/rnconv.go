package forecast

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/internal/optim"
	"github.com/seqcast/seqcast/pkg/errors"
)

// rnconvModel runs a temporal convolution front end over the window and
// feeds the convolved channels into a recurrent stack.
type rnconvModel struct {
	opts  Options
	conv  *conv1d
	drop  *dropout
	stack *recurrentStack
	out   *dense
	plist []*optim.Parameter
}

func newRNConv(cfg ConvStackConfig, opts Options) (*rnconvModel, error) {
	if cfg.Layers < 1 || cfg.Hidden < 1 {
		return nil, errors.NewValidationError("INVALID_CONFIG",
			fmt.Sprintf("rnconv needs positive layers and hidden size, got %d/%d", cfg.Layers, cfg.Hidden))
	}
	if cfg.Kernel < 1 || cfg.Kernel > opts.SeqLen {
		return nil, errors.NewValidationError("INVALID_KERNEL",
			fmt.Sprintf("kernel %d must be within the sequence length %d", cfg.Kernel, opts.SeqLen))
	}

	stack, err := newRecurrentStack(opts.Rand, opts.Cell, "rnn", cfg.Hidden, cfg.Hidden, cfg.Layers)
	if err != nil {
		return nil, err
	}

	m := &rnconvModel{
		opts:  opts,
		conv:  newConv1D(opts.Rand, "conv", opts.InputSize, cfg.Hidden, cfg.Kernel, actReLU),
		drop:  newDropout(opts.Rand, opts.Dropout),
		stack: stack,
		out:   newDense(opts.Rand, "out", cfg.Hidden, opts.Horizon*opts.OutputSize, actLinear),
	}
	m.plist = append(m.plist, m.conv.params()...)
	m.plist = append(m.plist, stack.params()...)
	m.plist = append(m.plist, m.out.params()...)
	return m, nil
}

func (m *rnconvModel) Family() Family { return FamilyRNConv }

func (m *rnconvModel) Forward(sample *mat.Dense) *mat.Dense {
	c := m.drop.forward(m.conv.forward(sample))
	h := m.stack.forward(c)
	return reshapeToMatrix(m.out.forward(h), m.opts.Horizon, m.opts.OutputSize)
}

func (m *rnconvModel) Backward(outputGrad *mat.Dense) {
	dh := m.out.backward(flattenMatrix(outputGrad))
	dc := m.stack.backward(dh)
	m.conv.backward(m.drop.backward(dc))
}

func (m *rnconvModel) Parameters() []*optim.Parameter { return m.plist }
func (m *rnconvModel) ZeroGrad()                      { zeroGrads(m.plist) }
func (m *rnconvModel) SetTraining(training bool)      { m.drop.training = training }

func (m *rnconvModel) StateDict() map[string]optim.TensorState { return stateDict(m.plist) }
func (m *rnconvModel) LoadStateDict(state map[string]optim.TensorState) error {
	return loadStateDict(m.plist, state)
}
