package daq

import (
	"fmt"
	"os"
	"time"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// NpySink accumulates every emitted row and, on Close, writes the run to a
// NumPy .npy file as a rows x (1+nchan) float64 matrix: elapsed seconds in
// column 0, then one column per channel. Meant for finite runs; an unbounded
// run grows this without limit, which the CLI warns about.
type NpySink struct {
	path string
	data []float64
	cols int
}

// NewNpySink creates a sink that will write to path when the run ends.
func NewNpySink(path string) *NpySink {
	return &NpySink{path: path}
}

func (s *NpySink) Start(base time.Time) error { return nil }

func (s *NpySink) Emit(row Row) error {
	if s.cols == 0 {
		s.cols = 1 + len(row.Values)
	} else if s.cols != 1+len(row.Values) {
		return fmt.Errorf("row has %d values, expected %d", len(row.Values), s.cols-1)
	}
	s.data = append(s.data, row.Elapsed)
	s.data = append(s.data, row.Values...)
	return nil
}

// Close writes the accumulated matrix. An empty run writes nothing.
func (s *NpySink) Close() error {
	if len(s.data) == 0 {
		return nil
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", s.path, err)
	}
	defer f.Close()

	m := mat.NewDense(len(s.data)/s.cols, s.cols, s.data)
	if err := npyio.Write(f, m); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}
