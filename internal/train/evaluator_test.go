package train

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/internal/forecast"
	"github.com/seqcast/seqcast/internal/hyper"
	"github.com/seqcast/seqcast/internal/tensor"
	"github.com/seqcast/seqcast/pkg/constants"
	"github.com/seqcast/seqcast/pkg/errors"
)

func evalOptions(seed int64) forecast.Options {
	return forecast.Options{
		InputSize:  2,
		OutputSize: 1,
		SeqLen:     8,
		Horizon:    4,
		Dropout:    0,
		Cell:       constants.CellLSTM,
		SkipHidden: 2,
		SkipSpan:   3,
		Rand:       rand.New(rand.NewSource(seed)),
	}
}

func evalBatches(rng *rand.Rand, batches, size, rows, cols int) []tensor.Batch {
	out := make([]tensor.Batch, batches)
	for b := range out {
		out[b] = make(tensor.Batch, size)
		for j := range out[b] {
			data := make([]float64, rows*cols)
			for i := range data {
				data[i] = rng.NormFloat64()
			}
			out[b][j] = mat.NewDense(rows, cols, data)
		}
	}
	return out
}

func savedCheckpoint(t *testing.T, store *CheckpointStore, cfg forecast.Config, run string) {
	t.Helper()
	model, err := forecast.New(cfg, evalOptions(5))
	require.NoError(t, err)
	require.NoError(t, store.SaveBest(run, model.StateDict()))
}

func TestEvaluateSumsOverBatches(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)
	cfg, err := forecast.FromSet(forecast.FamilyMLP, hyper.Set{1, 8})
	require.NoError(t, err)
	savedCheckpoint(t, store, cfg, "mlp")

	predDir := t.TempDir()
	ev := NewEvaluator(store, predDir, nil)

	rng := rand.New(rand.NewSource(11))
	testX := evalBatches(rng, 3, 2, 8, 2)
	testY := evalBatches(rng, 3, 2, 4, 1)

	rmse, mae, err := ev.Evaluate(cfg, evalOptions(5), "mlp", testX, testY)
	require.NoError(t, err)
	assert.Greater(t, rmse, 0.0)
	assert.Greater(t, mae, 0.0)

	// A single batch scores strictly less than the three-batch sum.
	one, oneMae, err := ev.Evaluate(cfg, evalOptions(5), "mlp", testX[:1], testY[:1])
	require.NoError(t, err)
	assert.Less(t, one, rmse)
	assert.Less(t, oneMae, mae)
}

func TestEvaluateMissingCheckpoint(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)
	cfg, err := forecast.FromSet(forecast.FamilyMLP, hyper.Set{1, 8})
	require.NoError(t, err)

	ev := NewEvaluator(store, t.TempDir(), nil)
	rng := rand.New(rand.NewSource(1))
	_, _, err = ev.Evaluate(cfg, evalOptions(1), "mlp",
		evalBatches(rng, 1, 1, 8, 2), evalBatches(rng, 1, 1, 4, 1))
	assert.ErrorIs(t, err, errors.ErrCheckpointNotFound)
}

func TestEvaluateOverwritePolicyKeepsLastBatch(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)
	cfg, err := forecast.FromSet(forecast.FamilyMLP, hyper.Set{1, 8})
	require.NoError(t, err)
	savedCheckpoint(t, store, cfg, "mlp")

	predDir := t.TempDir()
	ev := NewEvaluator(store, predDir, nil)

	rng := rand.New(rand.NewSource(2))
	testX := evalBatches(rng, 2, 3, 8, 2)
	testY := evalBatches(rng, 2, 3, 4, 1)
	_, _, err = ev.Evaluate(cfg, evalOptions(5), "mlp", testX, testY)
	require.NoError(t, err)

	files, err := os.ReadDir(predDir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "mlp.json", files[0].Name())

	raw, err := os.ReadFile(filepath.Join(predDir, "mlp.json"))
	require.NoError(t, err)
	var preds [][][]float64
	require.NoError(t, json.Unmarshal(raw, &preds))
	assert.Len(t, preds, 3)
}

func TestEvaluateAppendPolicyWritesPerBatch(t *testing.T) {
	store, err := NewCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)
	cfg, err := forecast.FromSet(forecast.FamilyMLP, hyper.Set{1, 8})
	require.NoError(t, err)
	savedCheckpoint(t, store, cfg, "mlp")

	predDir := t.TempDir()
	ev := NewEvaluator(store, predDir, nil)
	ev.Policy = PredAppend

	rng := rand.New(rand.NewSource(3))
	testX := evalBatches(rng, 2, 1, 8, 2)
	testY := evalBatches(rng, 2, 1, 4, 1)
	_, _, err = ev.Evaluate(cfg, evalOptions(5), "mlp", testX, testY)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(predDir, "mlp_batch0.json"))
	assert.FileExists(t, filepath.Join(predDir, "mlp_batch1.json"))
}

func TestLossHelpers(t *testing.T) {
	pred := mat.NewDense(2, 1, []float64{1, 3})
	target := mat.NewDense(2, 1, []float64{0, 1})

	assert.Equal(t, 5.0, squaredError(pred, target))
	assert.Equal(t, 3.0, absError(pred, target))

	b := tensor.Batch{mat.NewDense(2, 3, nil), mat.NewDense(2, 3, nil)}
	assert.Equal(t, 12, elementCount(b))
	assert.Equal(t, 0, elementCount(nil))

	grad := lossGrad(pred, target, 4)
	assert.InDelta(t, 0.5, grad.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, grad.At(1, 0), 1e-12)
}
