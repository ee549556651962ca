package daq

import (
	"errors"
	"fmt"

	"github.com/Enchufa2/daq-acquire/comedi"
)

// ErrOverrun means the hardware lapped the software: bytes were overwritten
// in the ring buffer before they were read. There is no recovery, because the
// data is already gone.
var ErrOverrun = errors.New("ring buffer overrun")

// RingReader drains the fixed-size streaming buffer a card's DMA engine
// writes into. It tracks two monotonically increasing byte counters: produced
// (everything the hardware has ever made available) and consumed (everything
// acknowledged with Acknowledge). The physical offset of logical byte p is
// p modulo the buffer size, an arithmetic detail no caller sees.
//
// Invariant: 0 <= produced-consumed <= size after every Poll. A poll that
// would violate it reports ErrOverrun instead.
type RingReader struct {
	dev       comedi.Device
	subdevice int
	buf       []byte
	size      uint64
	produced  uint64
	consumed  uint64
	wide      bool // 4-byte samples instead of 2-byte
}

// NewRingReader maps the streaming buffer of the given subdevice and fixes
// the sample width from the subdevice flags. The width never changes during
// a run.
func NewRingReader(dev comedi.Device, subdevice int, flags uint32) (*RingReader, error) {
	size, err := dev.BufferSize(subdevice)
	if err != nil {
		return nil, fmt.Errorf("querying buffer size: %w", err)
	}
	if size <= 0 {
		return nil, fmt.Errorf("subdevice %d reports buffer size %d", subdevice, size)
	}
	buf, err := dev.MapBuffer(subdevice)
	if err != nil {
		return nil, fmt.Errorf("mapping buffer: %w", err)
	}
	if len(buf) < size {
		return nil, fmt.Errorf("mapped %d bytes of a %d-byte buffer", len(buf), size)
	}
	return &RingReader{
		dev:       dev,
		subdevice: subdevice,
		buf:       buf,
		size:      uint64(size),
		wide:      flags&comedi.SDFLSample != 0,
	}, nil
}

// SampleBytes reports the fixed width of one raw sample.
func (r *RingReader) SampleBytes() int {
	if r.wide {
		return comedi.LSampleBytes
	}
	return comedi.SampleBytes
}

// BufferSize reports the ring capacity in bytes.
func (r *RingReader) BufferSize() int { return int(r.size) }

// Produced and Consumed report the monotonic byte cursors, for logging.
func (r *RingReader) Produced() uint64 { return r.produced }

// Consumed reports the acknowledged byte cursor.
func (r *RingReader) Consumed() uint64 { return r.consumed }

// Poll asks the hardware how many bytes it has made available and returns
// the total outstanding (unacknowledged) byte count. A query failure is not
// retryable: the driver is in an undefined state and the run must end. An
// outstanding count exceeding the buffer capacity is a fatal ErrOverrun.
func (r *RingReader) Poll() (int, error) {
	avail, err := r.dev.AvailableBytes(r.subdevice)
	if err != nil {
		return 0, fmt.Errorf("buffer query failed: %w", err)
	}
	if avail < 0 {
		return 0, fmt.Errorf("buffer query returned %d bytes", avail)
	}
	produced := r.consumed + uint64(avail)
	if produced < r.produced {
		return 0, fmt.Errorf("%w: read cursor passed the write cursor", ErrOverrun)
	}
	r.produced = produced
	if r.produced-r.consumed > r.size {
		return 0, fmt.Errorf("%w: %d bytes outstanding in a %d-byte buffer",
			ErrOverrun, r.produced-r.consumed, r.size)
	}
	return int(r.produced - r.consumed), nil
}

// Decode walks up to n outstanding bytes, invoking emit once per complete
// sample in production order, and returns how many bytes it actually decoded.
// A trailing fraction of a sample stays in the buffer for the next poll.
func (r *RingReader) Decode(n int, emit func(raw uint32)) int {
	sb := uint64(r.SampleBytes())
	if uint64(n) > r.produced-r.consumed {
		n = int(r.produced - r.consumed)
	}
	whole := uint64(n) - uint64(n)%sb
	for pos := r.consumed; pos < r.consumed+whole; pos += sb {
		var raw uint32
		// Assemble little-endian across a possible wrap point.
		for b := uint64(0); b < sb; b++ {
			raw |= uint32(r.buf[(pos+b)%r.size]) << (8 * b)
		}
		emit(raw)
	}
	return int(whole)
}

// Acknowledge releases n decoded bytes back to the hardware and advances the
// consumed cursor. Call it only after every byte in the range has been
// decoded; acknowledging late is how overruns happen.
func (r *RingReader) Acknowledge(n int) error {
	if uint64(n) > r.produced-r.consumed {
		return fmt.Errorf("acknowledging %d bytes but only %d outstanding", n, r.produced-r.consumed)
	}
	if n == 0 {
		return nil
	}
	if err := r.dev.MarkRead(r.subdevice, n); err != nil {
		return fmt.Errorf("acknowledging %d bytes: %w", n, err)
	}
	r.consumed += uint64(n)
	return nil
}
