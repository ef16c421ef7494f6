package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqcast/seqcast/pkg/errors"
)

func TestLoadMissingFile(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "errors_test_72.json"), nil)

	entries, err := l.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppendAccumulatesAcrossRuns(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "errors_test_72.json"), nil)

	require.NoError(t, l.Append("lstm", 1.5, 0.8))
	require.NoError(t, l.Append("lstm", 1.2, 0.7))

	entries, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 0.8, 1.2, 0.7}, entries["lstm"])
}

func TestAppendLeavesOtherRunsUntouched(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "configs_test_72.json"), nil)

	require.NoError(t, l.Append("gru", 2, 64))
	require.NoError(t, l.Append("lstm", 1, 32))

	entries, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 64}, entries["gru"])
	assert.Equal(t, []float64{1, 32}, entries["lstm"])
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors_test_72.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	l := New(path, nil)
	_, err := l.Load()
	assert.ErrorIs(t, err, errors.ErrLedgerCorrupt)

	// Append must refuse to clobber a corrupt ledger.
	err = l.Append("lstm", 1.0)
	assert.ErrorIs(t, err, errors.ErrLedgerCorrupt)

	raw, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "not json", string(raw))
}

func TestAppendSurvivesProcessBoundary(t *testing.T) {
	// A fresh Ledger value against the same path sees earlier entries, the
	// cross-invocation accumulation the search depends on.
	path := filepath.Join(t.TempDir(), "errors_test_72.json")

	require.NoError(t, New(path, nil).Append("lstm", 3.1))
	require.NoError(t, New(path, nil).Append("lstm", 2.9))

	entries, err := New(path, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, []float64{3.1, 2.9}, entries["lstm"])
}
