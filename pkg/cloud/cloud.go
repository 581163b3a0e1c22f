// Package cloud provides the dense column-major containers used to hold
// point clouds, query batches and result matrices.
//
// A Matrix stores D-dimensional points as columns in one contiguous
// float32 slice. The stride between consecutive columns may exceed the
// row count to allow alignment padding, which matters when the backing
// slice is handed to a compute device as a zero-copy buffer. Matrices
// are plain data: they are borrowed, never copied, by the search
// engines.
package cloud

import (
	"errors"
	"fmt"
)

var (
	ErrShape  = errors.New("cloud: invalid matrix shape")
	ErrStride = errors.New("cloud: stride smaller than row count")
)

// Order describes the memory layout of a matrix.
type Order uint8

const (
	// ColMajor stores each point contiguously, one column after another.
	ColMajor Order = iota
	// RowMajor is only produced by conversion helpers; the search engines
	// reject it because device kernels assume column-major access.
	RowMajor
)

// Matrix is a dense float32 matrix with fixed column stride.
type Matrix struct {
	data   []float32
	rows   int
	cols   int
	stride int
	order  Order
}

// NewMatrix allocates a rows x cols column-major matrix with stride == rows.
func NewMatrix(rows, cols int) *Matrix {
	m, err := NewMatrixStride(rows, cols, rows)
	if err != nil {
		panic(err) // stride == rows cannot fail for valid shapes
	}
	return m
}

// NewMatrixStride allocates a rows x cols column-major matrix whose columns
// are stride elements apart. stride > rows leaves padding between columns.
func NewMatrixStride(rows, cols, stride int) (*Matrix, error) {
	if rows <= 0 || cols < 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrShape, rows, cols)
	}
	if stride < rows {
		return nil, fmt.Errorf("%w: stride %d, rows %d", ErrStride, stride, rows)
	}
	return &Matrix{
		data:   make([]float32, cols*stride),
		rows:   rows,
		cols:   cols,
		stride: stride,
		order:  ColMajor,
	}, nil
}

// FromColMajor wraps an existing column-major slice without copying.
// len(data) must be at least cols*stride.
func FromColMajor(data []float32, rows, cols, stride int) (*Matrix, error) {
	if rows <= 0 || cols < 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrShape, rows, cols)
	}
	if stride < rows {
		return nil, fmt.Errorf("%w: stride %d, rows %d", ErrStride, stride, rows)
	}
	if len(data) < cols*stride {
		return nil, fmt.Errorf("%w: need %d elements, have %d", ErrShape, cols*stride, len(data))
	}
	return &Matrix{data: data, rows: rows, cols: cols, stride: stride, order: ColMajor}, nil
}

// FromRowMajor wraps a row-major slice (rows consecutive in memory).
// The result is not accepted by the search engines; convert with ToColMajor
// first. It exists so callers holding row-major data get a typed rejection
// instead of silently transposed results.
func FromRowMajor(data []float32, rows, cols int) (*Matrix, error) {
	if rows <= 0 || cols < 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrShape, rows, cols)
	}
	if len(data) < rows*cols {
		return nil, fmt.Errorf("%w: need %d elements, have %d", ErrShape, rows*cols, len(data))
	}
	return &Matrix{data: data, rows: rows, cols: cols, stride: cols, order: RowMajor}, nil
}

// Rows returns the number of rows (point dimensionality).
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns (points).
func (m *Matrix) Cols() int { return m.cols }

// Stride returns the element distance between consecutive columns.
func (m *Matrix) Stride() int { return m.stride }

// Order returns the memory layout.
func (m *Matrix) Order() Order { return m.order }

// Data returns the backing slice. The engines alias this memory into
// device buffers; callers must not mutate it while a query is in flight.
func (m *Matrix) Data() []float32 { return m.data }

// At returns the element at row r of column c.
func (m *Matrix) At(r, c int) float32 {
	if m.order == RowMajor {
		return m.data[r*m.stride+c]
	}
	return m.data[c*m.stride+r]
}

// Set writes the element at row r of column c.
func (m *Matrix) Set(r, c int, v float32) {
	if m.order == RowMajor {
		m.data[r*m.stride+c] = v
		return
	}
	m.data[c*m.stride+r] = v
}

// Col returns column c as a slice of length Rows, aliasing the backing
// storage. Only valid for column-major matrices.
func (m *Matrix) Col(c int) []float32 {
	if m.order == RowMajor {
		panic("cloud: Col on row-major matrix")
	}
	return m.data[c*m.stride : c*m.stride+m.rows]
}

// ToColMajor returns a column-major copy of a row-major matrix, or the
// receiver unchanged when already column-major.
func (m *Matrix) ToColMajor() *Matrix {
	if m.order == ColMajor {
		return m
	}
	out := NewMatrix(m.rows, m.cols)
	for c := 0; c < m.cols; c++ {
		for r := 0; r < m.rows; r++ {
			out.Set(r, c, m.At(r, c))
		}
	}
	return out
}

// Bounds returns per-dimension minima and maxima over all columns,
// considering only the first dim rows. Cols must be > 0.
func (m *Matrix) Bounds(dim int) (min, max []float32) {
	min = make([]float32, dim)
	max = make([]float32, dim)
	for d := 0; d < dim; d++ {
		min[d] = m.At(d, 0)
		max[d] = m.At(d, 0)
	}
	for c := 1; c < m.cols; c++ {
		for d := 0; d < dim; d++ {
			v := m.At(d, c)
			if v < min[d] {
				min[d] = v
			}
			if v > max[d] {
				max[d] = v
			}
		}
	}
	return min, max
}

// IndexMatrix is a dense int32 matrix with fixed column stride, used for
// k-NN result indices.
type IndexMatrix struct {
	data   []int32
	rows   int
	cols   int
	stride int
	order  Order
}

// NewIndexMatrix allocates a rows x cols column-major index matrix.
func NewIndexMatrix(rows, cols int) *IndexMatrix {
	return &IndexMatrix{
		data:   make([]int32, rows*cols),
		rows:   rows,
		cols:   cols,
		stride: rows,
		order:  ColMajor,
	}
}

// Rows returns the number of rows.
func (m *IndexMatrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *IndexMatrix) Cols() int { return m.cols }

// Stride returns the element distance between consecutive columns.
func (m *IndexMatrix) Stride() int { return m.stride }

// Order returns the memory layout.
func (m *IndexMatrix) Order() Order { return m.order }

// Data returns the backing slice.
func (m *IndexMatrix) Data() []int32 { return m.data }

// At returns the element at row r of column c.
func (m *IndexMatrix) At(r, c int) int32 { return m.data[c*m.stride+r] }

// Set writes the element at row r of column c.
func (m *IndexMatrix) Set(r, c int, v int32) { m.data[c*m.stride+r] = v }
