package comedi

import (
	"encoding/binary"
	"fmt"
	"time"
)

// SimDevice is a drop-in replacement for the hardware Device that needs no
// card and no driver. Tests (and dry runs with -d sim) script it: queue raw
// samples with Produce, and the acquisition loop drains them through the same
// AvailableBytes/MarkRead surface the kernel exposes.
//
// The simulated buffer behaves like the DMA ring: Produce writes at the
// producer cursor modulo the buffer size, and writing more than the unread
// capacity laps the reader, exactly the failure overrun detection exists for.
type SimDevice struct {
	Flags    uint32 // SDF* bits reported for every subdevice
	Size     int    // streaming buffer capacity, bytes
	Maxdata  uint32
	Ranges   []Range
	Board    string
	GrantNS  uint32 // scan period granted during command testing; 0 keeps the request
	Adjusted int    // how many TestCommand rounds report an adjustment

	// SelfClock makes the device generate a ramp on its own once a command
	// is armed, producing one scan per granted period of wall time. Dry runs
	// use this; tests usually script Produce directly instead.
	SelfClock bool

	buf      []byte
	produced uint64
	consumed uint64
	tested   int
	armed    *Command
	open     bool
	started  time.Time
	genScans uint64
}

// NewSimDevice returns a simulated 16-bit card with one bipolar 10 V range
// and a buffer of the given byte capacity.
func NewSimDevice(size int) *SimDevice {
	return &SimDevice{
		Flags:   SDFGround | SDFCommon,
		Size:    size,
		Maxdata: 0xffff,
		Ranges:  []Range{{Min: -10, Max: 10}},
		Board:   "sim",
		buf:     make([]byte, size),
		open:    true,
	}
}

func (d *SimDevice) Close() error {
	if !d.open {
		return fmt.Errorf("SimDevice.Close: already closed")
	}
	d.open = false
	return nil
}

func (d *SimDevice) BoardName() (string, error) { return d.Board, nil }

func (d *SimDevice) SubdeviceFlags(subdevice int) (uint32, error) {
	if !d.open {
		return 0, fmt.Errorf("SimDevice.SubdeviceFlags: not open")
	}
	return d.Flags, nil
}

func (d *SimDevice) BufferSize(subdevice int) (int, error) {
	return d.Size, nil
}

func (d *SimDevice) MapBuffer(subdevice int) ([]byte, error) {
	if !d.open {
		return nil, fmt.Errorf("SimDevice.MapBuffer: not open")
	}
	return d.buf, nil
}

func (d *SimDevice) MaxData(subdevice, channel int) (uint32, error) {
	return d.Maxdata, nil
}

func (d *SimDevice) RangeInfo(subdevice, channel, rng int) (Range, error) {
	if rng < 0 || rng >= len(d.Ranges) {
		return Range{}, fmt.Errorf("SimDevice.RangeInfo: range %d of %d", rng, len(d.Ranges))
	}
	return d.Ranges[rng], nil
}

// TestCommand reports an adjustment for the first d.Adjusted rounds, snapping
// the scan period to GrantNS if one was configured. Later rounds accept the
// command unmodified, as hardware does once its quantization has been applied.
func (d *SimDevice) TestCommand(cmd *Command) (int, error) {
	if len(cmd.ChanList) == 0 {
		return 0, fmt.Errorf("SimDevice.TestCommand: empty chanlist")
	}
	d.tested++
	if d.GrantNS != 0 {
		cmd.ScanBeginArg = d.GrantNS
	}
	if d.tested <= d.Adjusted {
		return 3, nil // stage 3: arguments adjusted
	}
	return 0, nil
}

func (d *SimDevice) Execute(cmd *Command) error {
	if d.tested == 0 {
		return fmt.Errorf("SimDevice.Execute: command was never tested")
	}
	if d.armed != nil {
		return fmt.Errorf("SimDevice.Execute: command already running")
	}
	d.armed = cmd
	d.started = time.Now()
	return nil
}

func (d *SimDevice) AvailableBytes(subdevice int) (int, error) {
	if !d.open {
		return 0, fmt.Errorf("SimDevice.AvailableBytes: not open")
	}
	d.generate()
	return int(d.produced - d.consumed), nil
}

// generate catches the self-clocked ramp up with wall time: one scan per
// granted period, honoring a TRIG_COUNT stop.
func (d *SimDevice) generate() {
	if !d.SelfClock || d.armed == nil || d.armed.ScanBeginArg == 0 {
		return
	}
	due := uint64(time.Since(d.started).Nanoseconds()) / uint64(d.armed.ScanBeginArg)
	if d.armed.StopSrc == TrigCount && due > uint64(d.armed.StopArg) {
		due = uint64(d.armed.StopArg)
	}
	scan := make([]uint32, len(d.armed.ChanList))
	for d.genScans < due {
		for i := range scan {
			scan[i] = uint32((d.genScans + uint64(i)) % uint64(d.Maxdata+1))
		}
		d.Produce(scan)
		d.genScans++
	}
}

func (d *SimDevice) MarkRead(subdevice, n int) error {
	if uint64(n) > d.produced-d.consumed {
		return fmt.Errorf("SimDevice.MarkRead(%d): only %d bytes outstanding", n, d.produced-d.consumed)
	}
	d.consumed += uint64(n)
	return nil
}

// Produce appends raw samples to the simulated DMA stream, encoded at the
// width implied by the SDF flags. Producing past the unread capacity
// overwrites data the reader has not seen; no error is raised here, because
// real DMA raises none either.
func (d *SimDevice) Produce(samples []uint32) {
	wide := d.Flags&SDFLSample != 0
	for _, s := range samples {
		if wide {
			var word [LSampleBytes]byte
			binary.LittleEndian.PutUint32(word[:], s)
			d.produceBytes(word[:])
		} else {
			var word [SampleBytes]byte
			binary.LittleEndian.PutUint16(word[:], uint16(s))
			d.produceBytes(word[:])
		}
	}
}

func (d *SimDevice) produceBytes(p []byte) {
	for _, b := range p {
		d.buf[d.produced%uint64(d.Size)] = b
		d.produced++
	}
}

// Armed returns the command most recently started with Execute, or nil.
func (d *SimDevice) Armed() *Command { return d.armed }

// TestedRounds returns how many times TestCommand has been called.
func (d *SimDevice) TestedRounds() int { return d.tested }
