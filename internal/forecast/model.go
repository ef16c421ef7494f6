package forecast

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/internal/hyper"
	"github.com/seqcast/seqcast/internal/optim"
	"github.com/seqcast/seqcast/pkg/constants"
	"github.com/seqcast/seqcast/pkg/errors"
)

// Family identifies a forecasting architecture.
type Family string

const (
	FamilyRNConv Family = constants.FamilyRNConv
	FamilyRNN    Family = constants.FamilyRNN
	FamilyLstNet Family = constants.FamilyLstNet
	FamilyMLP    Family = constants.FamilyMLP
)

// ParseFamily validates a family tag from the command surface.
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case FamilyRNConv, FamilyRNN, FamilyLstNet, FamilyMLP:
		return Family(s), nil
	}
	return "", errors.WrapError(errors.ErrUnknownModelFamily,
		errors.ErrorTypeValidation, "UNKNOWN_FAMILY",
		fmt.Sprintf("model family %q is not one of rnconv, rnn, lstnet, mlp", s))
}

// Forecaster is the model contract the training loop drives: a forward pass
// over one windowed sample, gradient accumulation for the matching backward
// pass, an optimizer-compatible parameter set, and a checkpointable state.
// Backward must be called directly after the Forward whose caches it consumes.
type Forecaster interface {
	Family() Family

	// Forward maps a (seqLen × inputSize) sample to a (horizon × outputSize)
	// prediction.
	Forward(sample *mat.Dense) *mat.Dense

	// Backward accumulates parameter gradients from the loss gradient with
	// respect to the last Forward's output.
	Backward(outputGrad *mat.Dense)

	Parameters() []*optim.Parameter
	ZeroGrad()

	// SetTraining toggles dropout between train and inference behavior.
	SetTraining(training bool)

	StateDict() map[string]optim.TensorState
	LoadStateDict(state map[string]optim.TensorState) error
}

// Options carries the fixed shape parameters shared by every family, plus
// the injected randomness used for weight init and dropout masks.
type Options struct {
	InputSize  int
	OutputSize int
	SeqLen     int
	Horizon    int
	Dropout    float64

	// Cell selects the recurrent cell for the rnn and rnconv families.
	Cell string

	// SkipHidden and SkipSpan are the fixed lstnet skip-path parameters.
	SkipHidden int
	SkipSpan   int

	Rand *rand.Rand
}

// Config is a strongly-typed hyperparameter assignment for one family. It
// replaces positional tuple unpacking: FromSet rejects wrong arities instead
// of mis-unpacking them.
type Config interface {
	ConfigFamily() Family
	// Values renders the assignment in ledger order.
	Values() []int
}

// StackConfig configures the rnn and mlp families: layer count and width.
type StackConfig struct {
	Layers int `json:"layers"`
	Hidden int `json:"hidden"`
}

// ConvStackConfig configures the rnconv family: layer count, width, kernel.
type ConvStackConfig struct {
	Layers int `json:"layers"`
	Hidden int `json:"hidden"`
	Kernel int `json:"kernel"`
}

// SkipConfig configures the lstnet family: recurrent width, convolutional
// width, kernel. The two widths are drawn from the same candidate list, which
// is why the config space collapses their duplicate tuples.
type SkipConfig struct {
	HiddenRNN int `json:"hidden_rnn"`
	HiddenCNN int `json:"hidden_cnn"`
	Kernel    int `json:"kernel"`
}

func (c StackConfig) Values() []int     { return []int{c.Layers, c.Hidden} }
func (c ConvStackConfig) Values() []int { return []int{c.Layers, c.Hidden, c.Kernel} }
func (c SkipConfig) Values() []int      { return []int{c.HiddenRNN, c.HiddenCNN, c.Kernel} }

type rnnStackConfig struct{ StackConfig }
type mlpStackConfig struct{ StackConfig }

func (rnnStackConfig) ConfigFamily() Family  { return FamilyRNN }
func (mlpStackConfig) ConfigFamily() Family  { return FamilyMLP }
func (ConvStackConfig) ConfigFamily() Family { return FamilyRNConv }
func (SkipConfig) ConfigFamily() Family      { return FamilyLstNet }

// Arity returns the hyperparameter tuple length a family expects.
func Arity(f Family) int {
	if f == FamilyRNN || f == FamilyMLP {
		return 2
	}
	return 3
}

// HyperLists assembles the per-dimension candidate lists for a family's
// search space, in tuple order.
func HyperLists(f Family, layers, hidden, kernel []int) [][]int {
	switch f {
	case FamilyRNN, FamilyMLP:
		return [][]int{layers, hidden}
	case FamilyLstNet:
		return [][]int{hidden, hidden, kernel}
	default:
		return [][]int{layers, hidden, kernel}
	}
}

// FromSet converts a drawn hyperparameter tuple into the family's typed
// config, failing on arity mismatch.
func FromSet(f Family, s hyper.Set) (Config, error) {
	if len(s) != Arity(f) {
		return nil, errors.WrapError(errors.ErrConfigArityMismatch,
			errors.ErrorTypeValidation, "CONFIG_ARITY",
			fmt.Sprintf("family %s expects %d hyperparameters, set %s has %d",
				f, Arity(f), s, len(s)))
	}
	switch f {
	case FamilyRNN:
		return rnnStackConfig{StackConfig{Layers: s[0], Hidden: s[1]}}, nil
	case FamilyMLP:
		return mlpStackConfig{StackConfig{Layers: s[0], Hidden: s[1]}}, nil
	case FamilyRNConv:
		return ConvStackConfig{Layers: s[0], Hidden: s[1], Kernel: s[2]}, nil
	case FamilyLstNet:
		return SkipConfig{HiddenRNN: s[0], HiddenCNN: s[1], Kernel: s[2]}, nil
	}
	return nil, errors.NewValidationError("UNKNOWN_FAMILY", string(f))
}

// New builds a fresh model for the config. Weights are initialized from
// opts.Rand, so a seeded search constructs identical models on repeated runs.
func New(cfg Config, opts Options) (Forecaster, error) {
	if opts.Rand == nil {
		return nil, errors.NewValidationError("MISSING_RAND", "model construction requires a random source")
	}
	if opts.InputSize < 1 || opts.OutputSize < 1 || opts.SeqLen < 1 || opts.Horizon < 1 {
		return nil, errors.NewValidationError("INVALID_SHAPE",
			fmt.Sprintf("shape parameters must be positive: in=%d out=%d seq=%d horizon=%d",
				opts.InputSize, opts.OutputSize, opts.SeqLen, opts.Horizon))
	}

	switch c := cfg.(type) {
	case rnnStackConfig:
		return newRNN(c.StackConfig, opts)
	case mlpStackConfig:
		return newMLP(c.StackConfig, opts)
	case ConvStackConfig:
		return newRNConv(c, opts)
	case SkipConfig:
		return newLstNet(c, opts)
	}
	return nil, errors.NewValidationError("UNKNOWN_CONFIG",
		fmt.Sprintf("unhandled config type %T", cfg))
}

// glorot draws a weight from the Glorot uniform range for a fanIn×fanOut
// connection.
func glorot(rng *rand.Rand, fanIn, fanOut int) float64 {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return (rng.Float64()*2 - 1) * limit
}

// newWeight allocates a rows×cols parameter with Glorot uniform init.
func newWeight(rng *rand.Rand, name string, rows, cols int) *optim.Parameter {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = glorot(rng, cols, rows)
	}
	return optim.NewParameter(name, mat.NewDense(rows, cols, data))
}

// newBias allocates a zeroed rows×1 parameter.
func newBias(name string, rows int) *optim.Parameter {
	return optim.NewParameter(name, mat.NewDense(rows, 1, nil))
}

// stateDict snapshots every parameter by name.
func stateDict(params []*optim.Parameter) map[string]optim.TensorState {
	state := make(map[string]optim.TensorState, len(params))
	for _, p := range params {
		state[p.Name] = optim.ToState(p.Value)
	}
	return state
}

// loadStateDict restores every parameter by name, failing on missing entries
// or shape drift.
func loadStateDict(params []*optim.Parameter, state map[string]optim.TensorState) error {
	for _, p := range params {
		ts, ok := state[p.Name]
		if !ok {
			return errors.WrapError(errors.ErrCheckpointCorrupt,
				errors.ErrorTypeStorage, "STATE_MISSING",
				fmt.Sprintf("checkpoint has no entry for parameter %s", p.Name))
		}
		if err := ts.Restore(p.Value); err != nil {
			return err
		}
	}
	return nil
}

func zeroGrads(params []*optim.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
