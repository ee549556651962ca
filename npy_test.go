package daq

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

func TestNpySinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.npy")
	sink := NewNpySink(path)
	if err := sink.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := sink.Emit(Row{Elapsed: 0, Values: []float64{1, 2}}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Emit(Row{Elapsed: 0.5, Values: []float64{3, 4}}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		t.Fatal(err)
	}
	rows, cols := m.Dims()
	if rows != 2 || cols != 3 {
		t.Fatalf("matrix is %dx%d, want 2x3", rows, cols)
	}
	want := [][]float64{{0, 1, 2}, {0.5, 3, 4}}
	for r := range want {
		for c := range want[r] {
			if m.At(r, c) != want[r][c] {
				t.Errorf("m[%d,%d] = %v, want %v", r, c, m.At(r, c), want[r][c])
			}
		}
	}
}

func TestNpySinkRejectsShapeChange(t *testing.T) {
	sink := NewNpySink(filepath.Join(t.TempDir(), "run.npy"))
	sink.Emit(Row{Elapsed: 0, Values: []float64{1}})
	if err := sink.Emit(Row{Elapsed: 1, Values: []float64{1, 2}}); err == nil {
		t.Error("a row of a different width was accepted")
	}
}

func TestNpySinkEmptyRunWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.npy")
	sink := NewNpySink(path)
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("an empty run left a file behind")
	}
}
