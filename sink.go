package daq

import (
	"fmt"
	"io"
	"time"
)

// RowSink receives completed rows. Start is called exactly once, with the
// wall-clock instant captured when the command was armed; every row's Elapsed
// is relative to it. Emit failures are fatal to the run: a sink that cannot
// accept rows means data is being lost.
type RowSink interface {
	Start(base time.Time) error
	Emit(row Row) error
	Close() error
}

// TextSink formats rows as lines: the timestamp with 7 decimal digits, then
// each value with 6 decimal digits padded to width 8, space-separated. In
// full-time mode the timestamp is base+elapsed instead of elapsed.
type TextSink struct {
	w        io.Writer
	fullTime bool
	base     float64 // seconds since the epoch, captured at Start
}

// NewTextSink writes formatted rows to w.
func NewTextSink(w io.Writer, fullTime bool) *TextSink {
	return &TextSink{w: w, fullTime: fullTime}
}

// Start captures the timestamp base.
func (s *TextSink) Start(base time.Time) error {
	s.base = float64(base.UnixNano()) / 1e9
	return nil
}

// Emit writes one line. Any write error is returned unwrapped in meaning:
// there are no retry semantics for the output stream.
func (s *TextSink) Emit(row Row) error {
	t := row.Elapsed
	if s.fullTime {
		t += s.base
	}
	if _, err := fmt.Fprintf(s.w, "%.7f ", t); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	for _, v := range row.Values {
		if _, err := fmt.Fprintf(s.w, "%8.6f ", v); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}
	if _, err := fmt.Fprintln(s.w); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

// Close is a no-op; the TextSink does not own its writer.
func (s *TextSink) Close() error { return nil }

// multiSink fans rows out to several sinks, failing on the first error.
type multiSink struct {
	sinks []RowSink
}

// MultiSink combines sinks; with a single element it returns it unchanged.
func MultiSink(sinks ...RowSink) RowSink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return &multiSink{sinks: sinks}
}

func (m *multiSink) Start(base time.Time) error {
	for _, s := range m.sinks {
		if err := s.Start(base); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiSink) Emit(row Row) error {
	for _, s := range m.sinks {
		if err := s.Emit(row); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiSink) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
