package train

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/seqcast/seqcast/internal/forecast"
	"github.com/seqcast/seqcast/internal/tensor"
	"github.com/seqcast/seqcast/pkg/errors"
)

// PredPolicy controls how per-batch prediction files are persisted.
type PredPolicy int

const (
	// PredOverwrite writes every batch's predictions to the same file, so
	// only the last batch survives. This is the historical behavior.
	PredOverwrite PredPolicy = iota

	// PredAppend writes one file per batch, suffixed with the batch index.
	PredAppend
)

// Evaluator loads the best checkpoint for a run, runs inference over the
// held-out test batches, and accumulates RMSE and MAE sums.
type Evaluator struct {
	logger  *logrus.Logger
	store   *CheckpointStore
	predDir string

	// Policy selects overwrite-per-batch or one-file-per-batch prediction
	// persistence.
	Policy PredPolicy
}

// NewEvaluator creates an evaluator writing prediction dumps under predDir.
func NewEvaluator(store *CheckpointStore, predDir string, logger *logrus.Logger) *Evaluator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Evaluator{logger: logger, store: store, predDir: predDir}
}

// Evaluate rebuilds a fresh model for the config, restores the run's best
// checkpoint, and scores every test batch. The returned values are sums over
// batches: per batch, the square root of the mean squared error and the mean
// absolute error. No averaging over the batch count is applied.
func (ev *Evaluator) Evaluate(
	cfg forecast.Config,
	opts forecast.Options,
	run string,
	testX, testY []tensor.Batch,
) (float64, float64, error) {
	model, err := forecast.New(cfg, opts)
	if err != nil {
		return 0, 0, err
	}

	ck, err := ev.store.LoadBest(run)
	if err != nil {
		return 0, 0, err
	}
	if err := model.LoadStateDict(ck.ModelState); err != nil {
		return 0, 0, err
	}
	model.SetTraining(false)

	if err := os.MkdirAll(ev.predDir, 0o755); err != nil {
		return 0, 0, errors.WrapError(err, errors.ErrorTypeStorage, "DIRECTORY_CREATION_FAILED",
			fmt.Sprintf("failed to create prediction directory %s", ev.predDir))
	}

	rmseSum := 0.0
	maeSum := 0.0
	for b := range testX {
		preds := make(tensor.Batch, len(testX[b]))
		n := elementCount(testY[b])
		sqSum := 0.0
		abSum := 0.0
		for j, sample := range testX[b] {
			preds[j] = model.Forward(sample)
			sqSum += squaredError(preds[j], testY[b][j])
			abSum += absError(preds[j], testY[b][j])
		}

		if err := ev.writePredictions(run, b, preds); err != nil {
			return 0, 0, err
		}

		rmseSum += math.Sqrt(sqSum / float64(n))
		maeSum += abSum / float64(n)
	}

	ev.logger.WithFields(logrus.Fields{
		"run":     run,
		"batches": len(testX),
		"rmse":    rmseSum,
		"mae":     maeSum,
	}).Info("Evaluation completed")
	return rmseSum, maeSum, nil
}

func (ev *Evaluator) writePredictions(run string, batch int, preds tensor.Batch) error {
	name := run
	if ev.Policy == PredAppend {
		name = fmt.Sprintf("%s_batch%d", run, batch)
	}
	path := filepath.Join(ev.predDir, name+".json")

	raw, err := json.Marshal(tensor.ToSlices(preds))
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "PREDICTION_ENCODE",
			fmt.Sprintf("failed to encode predictions for run %q", run))
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.WrapError(errors.ErrStorageWriteFailed,
			errors.ErrorTypeStorage, "PREDICTION_WRITE",
			fmt.Sprintf("failed to write predictions to %s: %v", path, err))
	}
	return nil
}
