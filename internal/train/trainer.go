package train

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/seqcast/seqcast/internal/forecast"
	"github.com/seqcast/seqcast/internal/hyper"
	"github.com/seqcast/seqcast/internal/observability/metrics"
	"github.com/seqcast/seqcast/internal/optim"
	"github.com/seqcast/seqcast/internal/tensor"
	"github.com/seqcast/seqcast/pkg/constants"
	"github.com/seqcast/seqcast/pkg/errors"
)

// EpochState is the cross-epoch training state threaded between the
// controller and the trainer, one call per epoch.
type EpochState struct {
	// BestConfig is the best configuration across the whole search so far.
	BestConfig hyper.Set
	// ValLoss is the best validation loss across the whole search so far.
	ValLoss float64
	// ValInnerLoss is the best validation loss within the current
	// configuration's run.
	ValInnerLoss float64
	// LastImprove is the epoch index anchoring the stall window.
	LastImprove int
	// Stop signals the caller to abandon the current configuration.
	Stop bool
}

// NewEpochState seeds the per-configuration state, carrying the search-wide
// best loss and config forward.
func NewEpochState(bestConfig hyper.Set, valLoss float64) EpochState {
	return EpochState{
		BestConfig:   bestConfig,
		ValLoss:      valLoss,
		ValInnerLoss: math.Inf(1),
	}
}

// Trainer runs single epochs of gradient descent plus a validation pass and
// applies the best-checkpoint and early-stopping policies.
type Trainer struct {
	logger  *logrus.Logger
	metrics *metrics.SearchMetrics
	store   *CheckpointStore
	run     string

	// Patience is the stall window length in epochs.
	Patience int

	// ResetStallOnImprove anchors the stall window to the most recent
	// inner-loss improvement. When false the window is anchored to the start
	// of the configuration's run, reproducing the behavior of the pipeline
	// this package replaces.
	ResetStallOnImprove bool
}

// NewTrainer creates a trainer writing checkpoints for the given run name.
func NewTrainer(store *CheckpointStore, run string, m *metrics.SearchMetrics, logger *logrus.Logger) *Trainer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Trainer{
		logger:              logger,
		metrics:             m,
		store:               store,
		run:                 run,
		Patience:            constants.DefaultPatience,
		ResetStallOnImprove: true,
	}
}

// cancelled reports whether the context has been cancelled.
func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// TrainEpoch runs one training epoch over every batch in order, then one
// no-gradient validation pass, and returns the updated state. On context
// cancellation it writes the continue checkpoint and returns ErrCancelled;
// the partially-trained epoch is not counted.
func (t *Trainer) TrainEpoch(
	ctx context.Context,
	model forecast.Forecaster,
	opt *optim.Adam,
	sched *optim.CosineAnnealing,
	warm *optim.LinearWarmup,
	trainX, trainY, validX, validY []tensor.Batch,
	epoch int,
	state EpochState,
	config hyper.Set,
	configIndex int,
) (EpochState, error) {
	model.SetTraining(true)
	totalLoss := 0.0

	for b := range trainX {
		if cancelled(ctx) {
			return state, t.checkpointContinue(epoch, model, opt, sched, warm, configIndex, state.BestConfig)
		}
		totalLoss += t.trainBatch(model, opt, trainX[b], trainY[b])
		sched.Step()
		warm.Dampen()
	}

	if t.metrics != nil {
		t.metrics.EpochsTotal.Inc()
		t.metrics.LastTrainLoss.Set(totalLoss)
	}
	if epoch%20 == 0 {
		t.logger.WithFields(logrus.Fields{
			"run":    t.run,
			"epoch":  epoch,
			"loss":   totalLoss,
			"config": config.String(),
		}).Info("Train epoch")
	}

	if cancelled(ctx) {
		return state, t.checkpointContinue(epoch, model, opt, sched, warm, configIndex, state.BestConfig)
	}

	valLoss := t.validate(model, validX, validY)

	if valLoss < state.ValInnerLoss {
		state.ValInnerLoss = valLoss
		if t.ResetStallOnImprove {
			state.LastImprove = epoch
		}
		if state.ValInnerLoss < state.ValLoss {
			state.ValLoss = state.ValInnerLoss
			state.BestConfig = config.Clone()
			if err := t.store.SaveBest(t.run, model.StateDict()); err != nil {
				return state, err
			}
			if t.metrics != nil {
				t.metrics.CheckpointsTotal.Inc()
				t.metrics.BestValLoss.Set(state.ValLoss)
			}
			t.logger.WithFields(logrus.Fields{
				"run":      t.run,
				"epoch":    epoch,
				"val_loss": state.ValLoss,
				"config":   config.String(),
			}).Info("New best configuration")
		}
	} else if epoch-state.LastImprove > t.Patience {
		state.Stop = true
		if t.metrics != nil {
			t.metrics.EarlyStopsTotal.Inc()
		}
		t.logger.WithFields(logrus.Fields{
			"run":    t.run,
			"epoch":  epoch,
			"anchor": state.LastImprove,
			"config": config.String(),
		}).Info("Early stopping triggered")
	}

	if epoch%20 == 0 {
		t.logger.WithFields(logrus.Fields{
			"run":      t.run,
			"epoch":    epoch,
			"val_loss": valLoss,
		}).Info("Validation pass")
	}
	return state, nil
}

// trainBatch runs forward, loss, backward, and one optimizer step for a
// single batch, returning the batch-mean squared error.
func (t *Trainer) trainBatch(model forecast.Forecaster, opt *optim.Adam, xb, yb tensor.Batch) float64 {
	model.ZeroGrad()
	n := elementCount(yb)
	sqSum := 0.0
	for j, sample := range xb {
		pred := model.Forward(sample)
		sqSum += squaredError(pred, yb[j])
		model.Backward(lossGrad(pred, yb[j], n))
	}
	opt.Step(model.Parameters())
	return sqSum / float64(n)
}

// validate sums the batch-mean squared error over every validation batch,
// without gradients.
func (t *Trainer) validate(model forecast.Forecaster, validX, validY []tensor.Batch) float64 {
	model.SetTraining(false)
	total := 0.0
	for b := range validX {
		n := elementCount(validY[b])
		sqSum := 0.0
		for j, sample := range validX[b] {
			sqSum += squaredError(model.Forward(sample), validY[b][j])
		}
		total += sqSum / float64(n)
	}
	return total
}

// checkpointContinue persists the full resume snapshot and surfaces the
// cancellation to the caller.
func (t *Trainer) checkpointContinue(
	epoch int,
	model forecast.Forecaster,
	opt *optim.Adam,
	sched *optim.CosineAnnealing,
	warm *optim.LinearWarmup,
	configIndex int,
	bestConfig hyper.Set,
) error {
	ck := &ContinueCheckpoint{
		Epoch:          epoch,
		ModelState:     model.StateDict(),
		OptimizerState: opt.StateDict(),
		ConfigIndex:    configIndex,
		BestConfig:     bestConfig,
		ScheduleStep:   sched.T(),
		WarmupStep:     warm.T(),
	}
	if err := t.store.SaveContinue(t.run, ck); err != nil {
		t.logger.WithError(err).Error("Failed to write continue checkpoint")
		return err
	}
	return errors.WrapError(errors.ErrCancelled,
		errors.ErrorTypeTraining, "TRAINING_CANCELLED",
		"search interrupted; continue checkpoint written")
}
