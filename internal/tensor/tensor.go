package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/pkg/errors"
)

// Series is a time-ordered collection of windowed samples. Each sample is a
// (sequence length × feature count) matrix; the slice index is the time axis.
type Series []*mat.Dense

// Batch is a fixed-size run of contiguous samples drawn from a Series.
type Batch []*mat.Dense

// RemainderPolicy controls how the dropped leading remainder is computed when
// the series length does not divide evenly into batches.
type RemainderPolicy int

const (
	// RemainderModBatchCount drops the first len(series) % batchCount samples.
	// This is the historical behavior of the pipeline this package replaces;
	// the dropped prefix is smaller than one batch but not one batch's worth.
	RemainderModBatchCount RemainderPolicy = iota

	// RemainderModBatchSize drops the first len(series) % batchSize samples,
	// so batches cover exactly the trailing batchCount*batchSize samples.
	RemainderModBatchSize
)

func (p RemainderPolicy) String() string {
	switch p {
	case RemainderModBatchCount:
		return "mod_batch_count"
	case RemainderModBatchSize:
		return "mod_batch_size"
	default:
		return fmt.Sprintf("remainder_policy(%d)", int(p))
	}
}

// Offset returns the index of the first sample included in batching for a
// series of the given length.
func (p RemainderPolicy) Offset(length, batchSize, batchCount int) int {
	if p == RemainderModBatchSize {
		return length % batchSize
	}
	return length % batchCount
}

// MakeBatches reshapes the input and target series into batchCount batches of
// batchSize contiguous samples each, where batchCount = len(x) / batchSize.
// Samples before the policy's starting offset are discarded. Samples are
// copied, so mutating a batch does not alias the source series.
func MakeBatches(batchSize int, x, y Series, policy RemainderPolicy) ([]Batch, []Batch, error) {
	if batchSize < 1 {
		return nil, nil, errors.WrapError(errors.ErrInvalidBatchSize,
			errors.ErrorTypeValidation, "INVALID_BATCH_SIZE",
			fmt.Sprintf("batch size must be >= 1, got %d", batchSize))
	}
	if len(x) != len(y) {
		return nil, nil, errors.WrapError(errors.ErrShapeMismatch,
			errors.ErrorTypeData, "SHAPE_MISMATCH",
			fmt.Sprintf("input has %d samples, target has %d", len(x), len(y)))
	}

	batchCount := len(x) / batchSize
	if batchCount == 0 {
		return nil, nil, errors.WrapError(errors.ErrIndexOutOfRange,
			errors.ErrorTypeData, "INDEX_RANGE",
			fmt.Sprintf("series of length %d is shorter than one batch of %d", len(x), batchSize))
	}

	start := policy.Offset(len(x), batchSize, batchCount)

	xb := make([]Batch, batchCount)
	yb := make([]Batch, batchCount)
	cursor := start
	for i := 0; i < batchCount; i++ {
		xb[i] = make(Batch, batchSize)
		yb[i] = make(Batch, batchSize)
		for j := 0; j < batchSize; j++ {
			xb[i][j] = mat.DenseCopyOf(x[cursor+j])
			yb[i][j] = mat.DenseCopyOf(y[cursor+j])
		}
		cursor += batchSize
	}
	return xb, yb, nil
}

// Wrap turns an entire series into a single batch without copying, the shape
// used for validation and test splits.
func Wrap(s Series) []Batch {
	if len(s) == 0 {
		return nil
	}
	return []Batch{Batch(s)}
}

// FromSlices builds a Series from nested float slices, validating that every
// sample is rectangular and shares the shape of the first.
func FromSlices(data [][][]float64) (Series, error) {
	if len(data) == 0 {
		return nil, errors.WrapError(errors.ErrInsufficientData,
			errors.ErrorTypeData, "EMPTY_SERIES", "series has no samples")
	}
	rows := len(data[0])
	if rows == 0 {
		return nil, errors.NewDataError("EMPTY_SAMPLE", "sample has no time steps")
	}
	cols := len(data[0][0])

	s := make(Series, len(data))
	for i, sample := range data {
		if len(sample) != rows {
			return nil, errors.NewDataError("RAGGED_SERIES",
				fmt.Sprintf("sample %d has %d rows, want %d", i, len(sample), rows))
		}
		m := mat.NewDense(rows, cols, nil)
		for r, row := range sample {
			if len(row) != cols {
				return nil, errors.NewDataError("RAGGED_SERIES",
					fmt.Sprintf("sample %d row %d has %d columns, want %d", i, r, len(row), cols))
			}
			for c, v := range row {
				m.Set(r, c, v)
			}
		}
		s[i] = m
	}
	return s, nil
}

// ToSlices converts a batch to nested float slices for serialization.
func ToSlices(b Batch) [][][]float64 {
	out := make([][][]float64, len(b))
	for i, sample := range b {
		rows, cols := sample.Dims()
		out[i] = make([][]float64, rows)
		for r := 0; r < rows; r++ {
			out[i][r] = make([]float64, cols)
			for c := 0; c < cols; c++ {
				out[i][r][c] = sample.At(r, c)
			}
		}
	}
	return out
}

// SampleShape returns the (rows, cols) shape of the first sample, or zeros
// for an empty series.
func SampleShape(s Series) (int, int) {
	if len(s) == 0 {
		return 0, 0
	}
	return s[0].Dims()
}
