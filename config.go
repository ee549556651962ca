package daq

import (
	"fmt"

	"github.com/Enchufa2/daq-acquire/comedi"
)

// MaxChannels is the longest channel list a command may carry.
const MaxChannels = 256

// Configuration describes one acquisition run. It is built by the CLI (or a
// test), validated once, and then treated as immutable by the core: nothing
// here changes after NewAcquisition.
type Configuration struct {
	Device    string  // device file, e.g. /dev/comedi0, or "sim"
	Subdevice int     // subdevice id
	Channels  []int   // ordered channel list; duplicates allowed, order significant
	ARef      int     // analog reference id
	Range     int     // range id
	Frequency float64 // target scan frequency, Hz
	StopCount int     // number of scans to acquire; 0 means run unbounded
	Integrate int     // scans integrated into each output row
	Verbose   bool
	FullTime  bool // print absolute timestamps instead of seconds since start

	Calibration string // software calibration file; empty selects the default path
	PublishPort int    // ZMQ PUB port for aggregated rows; 0 disables
	NpyPath     string // write the whole run as a NumPy array here; empty disables
	Realtime    bool   // attempt SCHED_FIFO + CPU pinning before acquiring
}

// DefaultConfiguration mirrors the historical tool defaults: first comedi
// device, subdevice 0, channel 0 at 10 kHz, unbounded, no integration.
func DefaultConfiguration() Configuration {
	return Configuration{
		Device:    "/dev/comedi0",
		Subdevice: 0,
		Channels:  []int{0},
		ARef:      comedi.ARefGround,
		Range:     0,
		Frequency: 10000.0,
		StopCount: 0,
		Integrate: 1,
	}
}

// Validate checks the parts of a Configuration the hardware cannot, and
// coerces the fields the original tool coerced: integration depths below 1
// become 1 and negative stop counts mean unbounded.
func (c *Configuration) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("no device file given")
	}
	if c.Subdevice < 0 {
		return fmt.Errorf("subdevice %d is negative", c.Subdevice)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("channel list is empty")
	}
	if len(c.Channels) > MaxChannels {
		return fmt.Errorf("channel list has %d entries, max is %d", len(c.Channels), MaxChannels)
	}
	for _, ch := range c.Channels {
		if ch < 0 {
			return fmt.Errorf("channel %d is negative", ch)
		}
	}
	if c.Frequency <= 0 {
		return fmt.Errorf("frequency %g Hz is not positive", c.Frequency)
	}
	if c.Integrate < 1 {
		c.Integrate = 1
	}
	if c.StopCount < 0 {
		c.StopCount = 0
	}
	return nil
}

// ChanList packs the configured channels with their shared range and analog
// reference into the encoding a hardware command carries.
func (c *Configuration) ChanList() []uint32 {
	list := make([]uint32, len(c.Channels))
	for i, ch := range c.Channels {
		list[i] = comedi.CRPack(ch, c.Range, c.ARef)
	}
	return list
}
