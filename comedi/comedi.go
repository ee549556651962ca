// Package comedi provides access to Comedi-supported data-acquisition cards
// through their /dev/comedi* character devices. Exports the Device interface
// for general use; the real hardware implementation speaks the kernel ioctl
// ABI directly, and SimDevice is a drop-in replacement that needs no hardware.
package comedi

// Subdevice flag bits, as reported by SubdeviceFlags.
const (
	SDFRangeType      uint32 = 0x0040     // range table depends on channel
	SDFSoftCalibrated uint32 = 0x2000     // subdevice uses software calibration
	SDFLSample        uint32 = 0x10000000 // samples are 32-bit (lsampl), not 16-bit
	SDFGround         uint32 = 0x00100000 // can do aref=ground
	SDFCommon         uint32 = 0x00200000 // can do aref=common
	SDFDiff           uint32 = 0x00400000 // can do aref=diff
	SDFOther          uint32 = 0x00800000 // can do aref=other
)

// Analog reference ids, encoded into each chanlist entry.
const (
	ARefGround = 0
	ARefCommon = 1
	ARefDiff   = 2
	ARefOther  = 3
)

// Trigger sources used by streaming commands. These are bitmasks: the device
// may AND an unsupported source down to the nearest valid subset during
// command testing.
const (
	TrigNone   uint32 = 0x00000001
	TrigNow    uint32 = 0x00000002
	TrigFollow uint32 = 0x00000004
	TrigTimer  uint32 = 0x00000010
	TrigCount  uint32 = 0x00000020
)

// Sample widths in bytes.
const (
	SampleBytes  = 2 // sampl_t
	LSampleBytes = 4 // lsampl_t
)

// CRPack encodes one chanlist entry: channel number in the low bits, then
// range id, then analog reference.
func CRPack(channel, rng, aref int) uint32 {
	return uint32(channel&0xffff) | uint32(rng&0xff)<<16 | uint32(aref&0x3)<<24
}

// CRChannel extracts the channel number from a packed chanlist entry.
func CRChannel(cr uint32) int { return int(cr & 0xffff) }

// CRRange extracts the range id from a packed chanlist entry.
func CRRange(cr uint32) int { return int((cr >> 16) & 0xff) }

// CRARef extracts the analog reference id from a packed chanlist entry.
func CRARef(cr uint32) int { return int((cr >> 24) & 0x3) }

// Command describes one streaming acquisition: which channels to scan, how
// often, and when to stop. It mirrors the kernel comedi_cmd, but holds only
// the fields this program negotiates. The device is allowed to rewrite any
// field during TestCommand.
type Command struct {
	Subdevice    uint32
	StartSrc     uint32
	StartArg     uint32
	ScanBeginSrc uint32
	ScanBeginArg uint32 // scan period in nanoseconds; authoritative after testing
	ConvertSrc   uint32
	ConvertArg   uint32
	ScanEndSrc   uint32
	ScanEndArg   uint32
	StopSrc      uint32
	StopArg      uint32
	ChanList     []uint32
}

// Range describes the physical span of one input range, in physical units
// (volts for analog inputs).
type Range struct {
	Min float64
	Max float64
}

// Device is the surface the acquisition core consumes. The real hardware
// implementation is returned by Open; SimDevice implements the same interface
// without hardware.
type Device interface {
	// Close releases the device.
	Close() error
	// BoardName reports the hardware board name, used to locate calibration files.
	BoardName() (string, error)
	// SubdeviceFlags reports the SDF* flag bits of one subdevice.
	SubdeviceFlags(subdevice int) (uint32, error)
	// BufferSize reports the streaming buffer capacity of one subdevice, in bytes.
	BufferSize(subdevice int) (int, error)
	// MapBuffer memory-maps the streaming buffer for reading.
	MapBuffer(subdevice int) ([]byte, error)
	// MaxData reports the largest raw sample code a channel can produce.
	MaxData(subdevice, channel int) (uint32, error)
	// RangeInfo reports the physical span of one range of one channel.
	RangeInfo(subdevice, channel, rng int) (Range, error)
	// TestCommand validates cmd, rewriting unsupported fields in place. It
	// returns 0 if the command was accepted unmodified, or the (1-based)
	// validation stage that had to adjust something.
	TestCommand(cmd *Command) (int, error)
	// Execute arms and starts a previously tested command.
	Execute(cmd *Command) error
	// AvailableBytes reports how many buffered bytes are ready to read but
	// not yet acknowledged with MarkRead.
	AvailableBytes(subdevice int) (int, error)
	// MarkRead acknowledges n bytes, releasing them for overwrite by DMA.
	MarkRead(subdevice, n int) error
}
