package model

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/samcharles93/minijarvis/internal/gguf"
)

// Mat is a row-major weight matrix whose encoded rows stay in the file
// mapping. Row r holds the Cols input weights of output r.
type Mat struct {
	Name     string
	Rows     int
	Cols     int
	Type     gguf.TensorType
	Data     []byte
	rowBytes int
}

// RowTo decodes row r into dst, which must hold Cols elements.
func (m *Mat) RowTo(dst []float32, r int) error {
	off := r * m.rowBytes
	return gguf.Dequantize(dst[:m.Cols], m.Type, m.Data[off:off+m.rowBytes])
}

func loadMat(f *gguf.File, name string, cols, rows int) (*Mat, error) {
	raw, dims, typ, err := gguf.ReadTensorRaw(f, name)
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 || int(dims[0]) != cols || int(dims[1]) != rows {
		return nil, fmt.Errorf("%w: tensor %s has shape %v, want [%d %d]", ErrInvalidModel, name, dims, cols, rows)
	}
	rowBytes, err := gguf.RowBytes(typ, cols)
	if err != nil {
		return nil, fmt.Errorf("%w: tensor %s: %v", ErrInvalidModel, name, err)
	}
	return &Mat{Name: name, Rows: rows, Cols: cols, Type: typ, Data: raw, rowBytes: rowBytes}, nil
}

func loadVec(f *gguf.File, name string, n int) ([]float32, error) {
	v, dims, err := gguf.ReadTensorF32(f, name)
	if err != nil {
		return nil, err
	}
	if len(dims) != 1 || int(dims[0]) != n {
		return nil, fmt.Errorf("%w: tensor %s has shape %v, want [%d]", ErrInvalidModel, name, dims, n)
	}
	return v, nil
}

// matvec computes dst = w * x, splitting rows across workers. Each worker
// decodes one row at a time into its own scratch buffer.
type matvec struct {
	workers int
	rows    [][]float32
}

func newMatVec(maxCols int) *matvec {
	n := min(runtime.GOMAXPROCS(0), 8)
	mv := &matvec{workers: n, rows: make([][]float32, n)}
	for i := range mv.rows {
		mv.rows[i] = make([]float32, maxCols)
	}
	return mv
}

func (mv *matvec) Run(dst []float32, w *Mat, x []float32) error {
	workers := mv.workers
	if w.Rows < 64 {
		workers = 1
	}
	if workers == 1 {
		return mv.rowsRange(dst, w, x, mv.rows[0], 0, w.Rows)
	}

	chunk := (w.Rows + workers - 1) / workers
	errs := make([]error, workers)
	panics := make([]any, workers)
	var wg sync.WaitGroup
	for i := range workers {
		start := i * chunk
		end := min(start+chunk, w.Rows)
		if start >= end {
			break
		}
		wg.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					panics[i] = r
				}
			}()
			errs[i] = mv.rowsRange(dst, w, x, mv.rows[i], start, end)
		})
	}
	wg.Wait()
	// Re-raise worker panics on the calling goroutine so callers can recover them.
	for _, p := range panics {
		if p != nil {
			panic(p)
		}
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (mv *matvec) rowsRange(dst []float32, w *Mat, x, row []float32, start, end int) error {
	row = row[:w.Cols]
	for r := start; r < end; r++ {
		if err := w.RowTo(row, r); err != nil {
			return fmt.Errorf("%s row %d: %w", w.Name, r, err)
		}
		dst[r] = dot(row, x)
	}
	return nil
}
