package daq

import (
	"gonum.org/v1/gonum/floats"
)

// Row is one completed, possibly integrated, scan: an elapsed time since the
// acquisition started and one physical value per configured channel.
type Row struct {
	Elapsed float64 // seconds since the timestamp base
	Values  []float64
}

// Aggregator de-interleaves the flat sample stream into per-channel scan
// rows, integrates blocks of scans into means, and timestamps each emitted
// row from the negotiated scan period. All of its state is explicit here;
// none of it survives outside a run.
//
// Elapsed time is kept as an integer count of completed scans times the
// period in nanoseconds, so it cannot drift no matter how long the run is.
// It becomes a float64 only at emission.
type Aggregator struct {
	conv     Converter
	nchan    int
	depth    int    // scans per output row
	periodNS uint64 // negotiated scan period

	sums      []float64 // per-channel running sums, cleared after each row
	col       int       // current column within a scan
	remaining int       // scans left in the current integration window
	scans     uint64    // completed scans
	rows      uint64    // emitted rows
}

// NewAggregator builds an aggregator for nchan channels, integrating depth
// scans per row, with scans periodNS nanoseconds apart. The converter maps
// each channel position's raw codes to physical units.
func NewAggregator(conv Converter, nchan, depth int, periodNS uint32) *Aggregator {
	if depth < 1 {
		depth = 1
	}
	return &Aggregator{
		conv:      conv,
		nchan:     nchan,
		depth:     depth,
		periodNS:  uint64(periodNS),
		sums:      make([]float64, nchan),
		remaining: depth,
	}
}

// Feed consumes one raw sample. Samples arrive in round-robin channel order;
// the sample's channel position is the current column. When the sample closes
// an integration window, Feed returns the completed row and true.
//
// The emitted timestamp is the elapsed time before the just-completed scan is
// counted, so the first row of a depth-1 run is stamped 0, and consecutive
// rows are exactly depth*period apart whether or not rows were skipped by
// integration.
func (a *Aggregator) Feed(raw uint32) (Row, bool) {
	a.sums[a.col] += a.conv.Convert(a.col, raw)
	a.col++
	if a.col < a.nchan {
		return Row{}, false
	}
	a.col = 0

	var row Row
	emitted := false
	a.remaining--
	if a.remaining == 0 {
		row.Elapsed = float64(a.scans*a.periodNS) / 1e9
		row.Values = make([]float64, a.nchan)
		copy(row.Values, a.sums)
		floats.Scale(1/float64(a.depth), row.Values)
		for i := range a.sums {
			a.sums[i] = 0
		}
		a.remaining = a.depth
		a.rows++
		emitted = true
	}
	a.scans++
	return row, emitted
}

// Scans reports how many complete scans have been consumed.
func (a *Aggregator) Scans() int { return int(a.scans) }

// Rows reports how many rows have been emitted.
func (a *Aggregator) Rows() int { return int(a.rows) }
