package train

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/internal/forecast"
	"github.com/seqcast/seqcast/internal/hyper"
	"github.com/seqcast/seqcast/internal/optim"
	"github.com/seqcast/seqcast/internal/tensor"
	"github.com/seqcast/seqcast/pkg/errors"
)

// scriptedModel emits a constant prediction so tests can dictate the
// validation loss per epoch. Against zero targets the loss equals value^2.
type scriptedModel struct {
	value float64
	param *optim.Parameter
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{
		param: optim.NewParameter("w", mat.NewDense(1, 1, []float64{0})),
	}
}

func (m *scriptedModel) Family() forecast.Family { return forecast.FamilyMLP }

func (m *scriptedModel) Forward(sample *mat.Dense) *mat.Dense {
	return mat.NewDense(1, 1, []float64{m.value})
}

func (m *scriptedModel) Backward(outputGrad *mat.Dense) {}

func (m *scriptedModel) Parameters() []*optim.Parameter { return []*optim.Parameter{m.param} }

func (m *scriptedModel) ZeroGrad() { m.param.ZeroGrad() }

func (m *scriptedModel) SetTraining(training bool) {}

func (m *scriptedModel) StateDict() map[string]optim.TensorState {
	return map[string]optim.TensorState{"w": optim.ToState(m.param.Value)}
}

func (m *scriptedModel) LoadStateDict(state map[string]optim.TensorState) error {
	return state["w"].Restore(m.param.Value)
}

type trainerHarness struct {
	trainer *Trainer
	store   *CheckpointStore
	model   *scriptedModel
	opt     *optim.Adam
	sched   *optim.CosineAnnealing
	warm    *optim.LinearWarmup

	trainX, trainY []tensor.Batch
	validX, validY []tensor.Batch
}

func newTrainerHarness(t *testing.T) *trainerHarness {
	t.Helper()
	store, err := NewCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)

	opt := optim.NewAdam(0.001, 0)
	zeros := func() tensor.Batch { return tensor.Batch{mat.NewDense(1, 1, nil)} }
	return &trainerHarness{
		trainer: NewTrainer(store, "lstm", nil, nil),
		store:   store,
		model:   newScriptedModel(),
		opt:     opt,
		sched:   optim.NewCosineAnnealing(opt, 100),
		warm:    optim.NewLinearWarmup(opt),
		trainX:  []tensor.Batch{zeros()},
		trainY:  []tensor.Batch{zeros()},
		validX:  []tensor.Batch{zeros()},
		validY:  []tensor.Batch{zeros()},
	}
}

// epoch runs one TrainEpoch with the model forced to the given prediction.
func (h *trainerHarness) epoch(t *testing.T, value float64, epoch int, state EpochState) EpochState {
	t.Helper()
	h.model.value = value
	next, err := h.trainer.TrainEpoch(context.Background(), h.model, h.opt, h.sched, h.warm,
		h.trainX, h.trainY, h.validX, h.validY, epoch, state, hyper.Set{1, 8}, 0)
	require.NoError(t, err)
	return next
}

func TestTrainEpochCheckpointsNewGlobalBest(t *testing.T) {
	h := newTrainerHarness(t)
	state := NewEpochState(hyper.Set{9, 9}, math.Inf(1))

	state = h.epoch(t, 2, 0, state) // val loss 4, first global best
	assert.Equal(t, 4.0, state.ValLoss)
	assert.True(t, hyper.Set{1, 8}.Equal(state.BestConfig))
	assert.True(t, h.store.HasBest("lstm"))
}

func TestTrainEpochSkipsCheckpointWithoutImprovement(t *testing.T) {
	h := newTrainerHarness(t)
	state := NewEpochState(hyper.Set{9, 9}, math.Inf(1))

	state = h.epoch(t, 2, 0, state) // val loss 4
	h.model.param.Value.Set(0, 0, 42)

	state = h.epoch(t, 3, 1, state) // val loss 9, worse
	assert.Equal(t, 4.0, state.ValLoss)

	// The non-improving epoch must not have rewritten the checkpoint with
	// the mutated weights.
	ck, err := h.store.LoadBest("lstm")
	require.NoError(t, err)
	assert.NotEqual(t, 42.0, ck.ModelState["w"].Data[0])

	state = h.epoch(t, 1, 2, state) // val loss 1, new best
	assert.Equal(t, 1.0, state.ValLoss)

	ck, err = h.store.LoadBest("lstm")
	require.NoError(t, err)
	assert.Equal(t, 42.0, ck.ModelState["w"].Data[0])
}

func TestTrainEpochInnerImprovementBelowGlobalBest(t *testing.T) {
	// A config can improve its own run without beating the search-wide best;
	// no checkpoint is written and the carried best config stands.
	h := newTrainerHarness(t)
	state := NewEpochState(hyper.Set{9, 9}, 0.5)

	state = h.epoch(t, 1, 0, state) // val loss 1 > 0.5
	assert.Equal(t, 1.0, state.ValInnerLoss)
	assert.Equal(t, 0.5, state.ValLoss)
	assert.True(t, hyper.Set{9, 9}.Equal(state.BestConfig))
	assert.False(t, h.store.HasBest("lstm"))
}

func TestEarlyStoppingAnchoredToRunStart(t *testing.T) {
	h := newTrainerHarness(t)
	h.trainer.Patience = 3
	h.trainer.ResetStallOnImprove = false

	state := NewEpochState(hyper.Set{1, 8}, math.Inf(1))
	state = h.epoch(t, 1, 0, state) // improvement at epoch 0

	for epoch := 1; epoch <= 3; epoch++ {
		state = h.epoch(t, 2, epoch, state)
		assert.False(t, state.Stop, "stopped early at epoch %d", epoch)
	}
	state = h.epoch(t, 2, 4, state) // 4 - 0 > 3
	assert.True(t, state.Stop)
}

func TestEarlyStoppingAnchorFollowsImprovement(t *testing.T) {
	h := newTrainerHarness(t)
	h.trainer.Patience = 3
	h.trainer.ResetStallOnImprove = true

	state := NewEpochState(hyper.Set{1, 8}, math.Inf(1))
	state = h.epoch(t, 2, 0, state) // improvement, anchor 0
	state = h.epoch(t, 3, 1, state)
	state = h.epoch(t, 1, 2, state) // improvement, anchor moves to 2

	for epoch := 3; epoch <= 5; epoch++ {
		state = h.epoch(t, 2, epoch, state)
		assert.False(t, state.Stop, "stopped early at epoch %d", epoch)
	}
	state = h.epoch(t, 2, 6, state) // 6 - 2 > 3
	assert.True(t, state.Stop)
}

func TestTrainEpochCancellationWritesContinueCheckpoint(t *testing.T) {
	h := newTrainerHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.model.value = 1
	state := NewEpochState(hyper.Set{1, 8}, math.Inf(1))
	_, err := h.trainer.TrainEpoch(ctx, h.model, h.opt, h.sched, h.warm,
		h.trainX, h.trainY, h.validX, h.validY, 7, state, hyper.Set{1, 8}, 4)
	require.ErrorIs(t, err, errors.ErrCancelled)

	ck, loadErr := h.store.LoadContinue("lstm")
	require.NoError(t, loadErr)
	assert.Equal(t, 7, ck.Epoch)
	assert.Equal(t, 4, ck.ConfigIndex)

	// The interrupted epoch never reached validation; no best was written.
	assert.False(t, h.store.HasBest("lstm"))
}
