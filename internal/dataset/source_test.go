package dataset

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqcast/seqcast/pkg/errors"
)

func writeArtifact(t *testing.T, dir, name string, data [][][]float64) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
}

func sampleData(n, rows, cols int) [][][]float64 {
	out := make([][][]float64, n)
	for i := range out {
		out[i] = make([][]float64, rows)
		for r := range out[i] {
			out[i][r] = make([]float64, cols)
		}
	}
	return out
}

func TestFileSourceLoad(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "train_x.json", sampleData(6, 8, 2))
	writeArtifact(t, dir, "train_y.json", sampleData(6, 4, 1))
	writeArtifact(t, dir, "valid_x.json", sampleData(2, 8, 2))
	writeArtifact(t, dir, "valid_y.json", sampleData(2, 4, 1))
	writeArtifact(t, dir, "test_x.json", sampleData(2, 8, 2))
	writeArtifact(t, dir, "test_y.json", sampleData(2, 4, 1))

	splits, err := NewFileSource(dir, nil).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, splits.TrainX, 6)
	assert.Len(t, splits.TestY, 2)

	rows, cols := splits.TrainX[0].Dims()
	assert.Equal(t, 8, rows)
	assert.Equal(t, 2, cols)
}

func TestFileSourceMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "train_x.json", sampleData(6, 8, 2))

	_, err := NewFileSource(dir, nil).Load(context.Background())
	assert.ErrorIs(t, err, errors.ErrMissingArtifact)
}

func TestFileSourceMalformedArtifact(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "train_x.json", sampleData(6, 8, 2))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train_y.json"), []byte("{}"), 0o644))

	_, err := NewFileSource(dir, nil).Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, "ARTIFACT_DECODE", errors.GetCode(err))
}

func TestFileSourceMismatchedSplit(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "train_x.json", sampleData(6, 8, 2))
	writeArtifact(t, dir, "train_y.json", sampleData(5, 4, 1))
	writeArtifact(t, dir, "valid_x.json", sampleData(2, 8, 2))
	writeArtifact(t, dir, "valid_y.json", sampleData(2, 4, 1))
	writeArtifact(t, dir, "test_x.json", sampleData(2, 8, 2))
	writeArtifact(t, dir, "test_y.json", sampleData(2, 4, 1))

	_, err := NewFileSource(dir, nil).Load(context.Background())
	assert.ErrorIs(t, err, errors.ErrShapeMismatch)
}

func TestSyntheticSourceShapes(t *testing.T) {
	src := NewSyntheticSource(SyntheticConfig{
		TrainSamples: 10,
		ValidSamples: 3,
		TestSamples:  3,
		SeqLen:       12,
		Horizon:      6,
		Features:     3,
		OutFeatures:  1,
		NoiseLevel:   0.05,
		Seed:         42,
	})

	splits, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, splits.TrainX, 10)
	assert.Len(t, splits.ValidX, 3)

	rows, cols := splits.TrainX[0].Dims()
	assert.Equal(t, 12, rows)
	assert.Equal(t, 3, cols)

	rows, cols = splits.TrainY[0].Dims()
	assert.Equal(t, 6, rows)
	assert.Equal(t, 1, cols)
}

func TestSyntheticSourceDeterministic(t *testing.T) {
	cfg := SyntheticConfig{
		TrainSamples: 4, ValidSamples: 2, TestSamples: 2,
		SeqLen: 6, Horizon: 3, Features: 2, OutFeatures: 1,
		NoiseLevel: 0.1, Seed: 7,
	}

	a, err := NewSyntheticSource(cfg).Load(context.Background())
	require.NoError(t, err)
	b, err := NewSyntheticSource(cfg).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.TrainX[0].At(2, 1), b.TrainX[0].At(2, 1))
	assert.Equal(t, a.TestY[1].At(0, 0), b.TestY[1].At(0, 0))
}

func TestSyntheticSourceInvalidConfig(t *testing.T) {
	_, err := NewSyntheticSource(SyntheticConfig{}).Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, "INVALID_CONFIG", errors.GetCode(err))
}
