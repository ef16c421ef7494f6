package optim

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/seqcast/seqcast/pkg/errors"
)

// Parameter is a trainable weight matrix paired with its accumulated
// gradient. Vectors are carried as single-column matrices.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter allocates a parameter and its zeroed gradient buffer.
func NewParameter(name string, value *mat.Dense) *Parameter {
	rows, cols := value.Dims()
	return &Parameter{
		Name:  name,
		Value: value,
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// ZeroGrad clears the accumulated gradient in place.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// TensorState is the serializable form of a matrix, used by model and
// optimizer state dicts.
type TensorState struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// ToState snapshots a matrix into its serializable form.
func ToState(m *mat.Dense) TensorState {
	rows, cols := m.Dims()
	data := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			data[r*cols+c] = m.At(r, c)
		}
	}
	return TensorState{Rows: rows, Cols: cols, Data: data}
}

// Restore copies a serialized tensor into dst, validating shape.
func (ts TensorState) Restore(dst *mat.Dense) error {
	rows, cols := dst.Dims()
	if rows != ts.Rows || cols != ts.Cols || len(ts.Data) != ts.Rows*ts.Cols {
		return errors.WrapError(errors.ErrCheckpointCorrupt,
			errors.ErrorTypeStorage, "STATE_SHAPE",
			fmt.Sprintf("state is %dx%d (%d values), parameter is %dx%d",
				ts.Rows, ts.Cols, len(ts.Data), rows, cols))
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dst.Set(r, c, ts.Data[r*cols+c])
		}
	}
	return nil
}
