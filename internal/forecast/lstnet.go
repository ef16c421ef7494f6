package forecast

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/internal/optim"
	"github.com/seqcast/seqcast/pkg/constants"
	"github.com/seqcast/seqcast/pkg/errors"
)

// lstnetModel is the skip-connection family: a temporal convolution feeds a
// GRU over the full convolved sequence and a second GRU over a strided
// subsequence spanning SkipSpan steps; the two final states are combined
// into the horizon projection.
type lstnetModel struct {
	opts     Options
	conv     *conv1d
	drop     *dropout
	mainGRU  *recurrentStack
	skipGRU  *recurrentStack
	combine  *dense
	skipIdx  []int
	plist    []*optim.Parameter
	mainSize int
}

func newLstNet(cfg SkipConfig, opts Options) (*lstnetModel, error) {
	if cfg.HiddenRNN < 1 || cfg.HiddenCNN < 1 {
		return nil, errors.NewValidationError("INVALID_CONFIG",
			fmt.Sprintf("lstnet needs positive hidden sizes, got %d/%d", cfg.HiddenRNN, cfg.HiddenCNN))
	}
	if cfg.Kernel < 1 || cfg.Kernel > opts.SeqLen {
		return nil, errors.NewValidationError("INVALID_KERNEL",
			fmt.Sprintf("kernel %d must be within the sequence length %d", cfg.Kernel, opts.SeqLen))
	}

	skipHidden := opts.SkipHidden
	if skipHidden < 1 {
		skipHidden = constants.DefaultSkipHidden
	}
	skipSpan := opts.SkipSpan
	if skipSpan < 1 {
		skipSpan = constants.DefaultSkipSpan
	}

	mainGRU, err := newRecurrentStack(opts.Rand, constants.CellGRU, "gru", cfg.HiddenCNN, cfg.HiddenRNN, 1)
	if err != nil {
		return nil, err
	}
	skipGRU, err := newRecurrentStack(opts.Rand, constants.CellGRU, "skip", cfg.HiddenCNN, skipHidden, 1)
	if err != nil {
		return nil, err
	}

	// Strided indices over the convolved sequence, ending at its last step.
	convSteps := opts.SeqLen - cfg.Kernel + 1
	var skipIdx []int
	for t := convSteps - 1; t >= 0; t -= skipSpan {
		skipIdx = append(skipIdx, t)
	}
	for i, j := 0, len(skipIdx)-1; i < j; i, j = i+1, j-1 {
		skipIdx[i], skipIdx[j] = skipIdx[j], skipIdx[i]
	}

	m := &lstnetModel{
		opts:     opts,
		conv:     newConv1D(opts.Rand, "conv", opts.InputSize, cfg.HiddenCNN, cfg.Kernel, actReLU),
		drop:     newDropout(opts.Rand, opts.Dropout),
		mainGRU:  mainGRU,
		skipGRU:  skipGRU,
		combine:  newDense(opts.Rand, "combine", cfg.HiddenRNN+skipHidden, opts.Horizon*opts.OutputSize, actLinear),
		skipIdx:  skipIdx,
		mainSize: cfg.HiddenRNN,
	}
	m.plist = append(m.plist, m.conv.params()...)
	m.plist = append(m.plist, mainGRU.params()...)
	m.plist = append(m.plist, skipGRU.params()...)
	m.plist = append(m.plist, m.combine.params()...)
	return m, nil
}

func (m *lstnetModel) Family() Family { return FamilyLstNet }

func (m *lstnetModel) strided(c *mat.Dense) *mat.Dense {
	_, cols := c.Dims()
	sub := mat.NewDense(len(m.skipIdx), cols, nil)
	for i, t := range m.skipIdx {
		for f := 0; f < cols; f++ {
			sub.Set(i, f, c.At(t, f))
		}
	}
	return sub
}

func (m *lstnetModel) Forward(sample *mat.Dense) *mat.Dense {
	c := m.drop.forward(m.conv.forward(sample))

	hMain := m.mainGRU.forward(c)
	hSkip := m.skipGRU.forward(m.strided(c))

	joined := mat.NewDense(m.mainSize+m.skipGRU.hiddenSize(), 1, nil)
	for i := 0; i < m.mainSize; i++ {
		joined.Set(i, 0, hMain.At(i, 0))
	}
	for i := 0; i < m.skipGRU.hiddenSize(); i++ {
		joined.Set(m.mainSize+i, 0, hSkip.At(i, 0))
	}
	return reshapeToMatrix(m.combine.forward(joined), m.opts.Horizon, m.opts.OutputSize)
}

func (m *lstnetModel) Backward(outputGrad *mat.Dense) {
	dJoined := m.combine.backward(flattenMatrix(outputGrad))

	dMain := mat.NewDense(m.mainSize, 1, nil)
	for i := 0; i < m.mainSize; i++ {
		dMain.Set(i, 0, dJoined.At(i, 0))
	}
	dSkip := mat.NewDense(m.skipGRU.hiddenSize(), 1, nil)
	for i := 0; i < m.skipGRU.hiddenSize(); i++ {
		dSkip.Set(i, 0, dJoined.At(m.mainSize+i, 0))
	}

	dConv := m.mainGRU.backward(dMain)
	dSub := m.skipGRU.backward(dSkip)
	for i, t := range m.skipIdx {
		_, cols := dConv.Dims()
		for f := 0; f < cols; f++ {
			dConv.Set(t, f, dConv.At(t, f)+dSub.At(i, f))
		}
	}
	m.conv.backward(m.drop.backward(dConv))
}

func (m *lstnetModel) Parameters() []*optim.Parameter { return m.plist }
func (m *lstnetModel) ZeroGrad()                      { zeroGrads(m.plist) }
func (m *lstnetModel) SetTraining(training bool)      { m.drop.training = training }

func (m *lstnetModel) StateDict() map[string]optim.TensorState { return stateDict(m.plist) }
func (m *lstnetModel) LoadStateDict(state map[string]optim.TensorState) error {
	return loadStateDict(m.plist, state)
}
