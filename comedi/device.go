package comedi

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request numbers from the kernel comedi ABI (magic 'd').
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	comediMagic = 'd'
)

// ioc builds an ioctl request word. The direction bits must match the uapi
// header exactly, not what the driver actually copies: the kernel dispatcher
// switches on the full word, and RANGEINFO, CMD, CMDTEST and BUFCONFIG are
// declared _IOR there even though the driver moves data both ways.
func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | comediMagic<<8 | nr
}

// Kernel structs, laid out to match include/uapi/linux/comedi.h.

type devInfo struct {
	VersionCode    uint32
	NSubdevs       uint32
	DriverName     [20]byte
	BoardName      [20]byte
	ReadSubdevice  int32
	WriteSubdevice int32
	Unused         [30]int32
}

type subdInfo struct {
	Type          uint32
	NChan         uint32
	SubdFlags     uint32
	TimerType     uint32
	LenChanlist   uint32
	Maxdata       uint32
	Flags         uint32
	RangeType     uint32
	SettlingTime0 uint32
	InsnBits      uint32
	Unused        [8]uint32
}

type bufConfig struct {
	Subdevice   uint32
	Flags       uint32
	MaximumSize uint32
	Size        uint32
	Unused      [4]uint32
}

type bufInfo struct {
	Subdevice     uint32
	BytesRead     uint32
	BufWritePtr   uint32
	BufReadPtr    uint32
	BufWriteCount uint32
	BufReadCount  uint32
	BytesWritten  uint32
	Unused        [4]uint32
}

type krange struct {
	Min   int32 // multiples of 1e-6
	Max   int32
	Flags uint32
}

type rangeInfoReq struct {
	RangeType uint32
	RangePtr  uintptr
}

// kernelCmd is the wire layout of comedi_cmd, with raw pointers for the
// chanlist and data regions.
type kernelCmd struct {
	Subdev       uint32
	Flags        uint32
	StartSrc     uint32
	StartArg     uint32
	ScanBeginSrc uint32
	ScanBeginArg uint32
	ConvertSrc   uint32
	ConvertArg   uint32
	ScanEndSrc   uint32
	ScanEndArg   uint32
	StopSrc      uint32
	StopArg      uint32
	Chanlist     uintptr
	ChanlistLen  uint32
	Data         uintptr
	DataLen      uint32
}

// hardwareDevice is the Device implementation backed by a /dev/comedi* file.
type hardwareDevice struct {
	file  *os.File
	info  devInfo
	valid bool
}

// Open opens the named comedi device file and queries its identity.
func Open(path string) (Device, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("comedi.Open(%s): %w", path, err)
	}
	dev := &hardwareDevice{file: file}
	reqDevInfo := ioc(iocRead, 1, unsafe.Sizeof(dev.info))
	if err := dev.ioctl(reqDevInfo, unsafe.Pointer(&dev.info)); err != nil {
		file.Close()
		return nil, fmt.Errorf("comedi.Open(%s): DEVINFO failed: %w", path, err)
	}
	dev.valid = true
	return dev, nil
}

func (dev *hardwareDevice) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.file.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// ioctlRet is for requests whose non-negative return value carries meaning
// (COMEDI_CMDTEST reports the adjusting stage this way).
func (dev *hardwareDevice) ioctlRet(req uintptr, arg unsafe.Pointer) (int, error) {
	r1, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.file.Fd(), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}

func (dev *hardwareDevice) Close() error {
	dev.valid = false
	return dev.file.Close()
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (dev *hardwareDevice) BoardName() (string, error) {
	return cstring(dev.info.BoardName[:]), nil
}

// DriverName reports the kernel driver bound to this device.
func (dev *hardwareDevice) DriverName() (string, error) {
	return cstring(dev.info.DriverName[:]), nil
}

func (dev *hardwareDevice) subdevInfo(subdevice int) (subdInfo, error) {
	var zero subdInfo
	if subdevice < 0 || uint32(subdevice) >= dev.info.NSubdevs {
		return zero, fmt.Errorf("subdevice %d out of range (device has %d)", subdevice, dev.info.NSubdevs)
	}
	infos := make([]subdInfo, dev.info.NSubdevs)
	req := ioc(iocRead, 2, unsafe.Sizeof(zero))
	if err := dev.ioctl(req, unsafe.Pointer(&infos[0])); err != nil {
		return zero, fmt.Errorf("SUBDINFO failed: %w", err)
	}
	return infos[subdevice], nil
}

func (dev *hardwareDevice) SubdeviceFlags(subdevice int) (uint32, error) {
	info, err := dev.subdevInfo(subdevice)
	if err != nil {
		return 0, err
	}
	return info.SubdFlags, nil
}

func (dev *hardwareDevice) MaxData(subdevice, channel int) (uint32, error) {
	info, err := dev.subdevInfo(subdevice)
	if err != nil {
		return 0, err
	}
	return info.Maxdata, nil
}

// rangeType picks the range table id one channel of a subdevice uses. The
// subdInfo field is only defined when ranges are shared across channels;
// per-channel tables need the CHANINFO ioctl, which this program does not
// speak, so those boards are rejected rather than read through the wrong table.
func rangeType(info subdInfo, channel int) (uint32, error) {
	if info.SubdFlags&SDFRangeType != 0 {
		return 0, fmt.Errorf("channel %d: subdevice has per-channel range tables, not supported", channel)
	}
	return info.RangeType, nil
}

func (dev *hardwareDevice) RangeInfo(subdevice, channel, rng int) (Range, error) {
	info, err := dev.subdevInfo(subdevice)
	if err != nil {
		return Range{}, err
	}
	rt, err := rangeType(info, channel)
	if err != nil {
		return Range{}, err
	}
	nranges := int(rt & 0xffff)
	if rng < 0 || rng >= nranges {
		return Range{}, fmt.Errorf("range %d out of range (subdevice has %d)", rng, nranges)
	}
	kranges := make([]krange, nranges)
	req := rangeInfoReq{
		RangeType: rt,
		RangePtr:  uintptr(unsafe.Pointer(&kranges[0])),
	}
	ioreq := ioc(iocRead, 8, unsafe.Sizeof(req))
	if err := dev.ioctl(ioreq, unsafe.Pointer(&req)); err != nil {
		return Range{}, fmt.Errorf("RANGEINFO failed: %w", err)
	}
	return Range{
		Min: float64(kranges[rng].Min) * 1e-6,
		Max: float64(kranges[rng].Max) * 1e-6,
	}, nil
}

func (dev *hardwareDevice) BufferSize(subdevice int) (int, error) {
	cfg := bufConfig{Subdevice: uint32(subdevice)}
	req := ioc(iocRead, 13, unsafe.Sizeof(cfg))
	if err := dev.ioctl(req, unsafe.Pointer(&cfg)); err != nil {
		return 0, fmt.Errorf("BUFCONFIG failed: %w", err)
	}
	return int(cfg.Size), nil
}

func (dev *hardwareDevice) MapBuffer(subdevice int) ([]byte, error) {
	size, err := dev.BufferSize(subdevice)
	if err != nil {
		return nil, err
	}
	buf, err := unix.Mmap(int(dev.file.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap of %d streaming bytes failed: %w", size, err)
	}
	return buf, nil
}

func (dev *hardwareDevice) marshalCmd(cmd *Command) kernelCmd {
	kc := kernelCmd{
		Subdev:       cmd.Subdevice,
		StartSrc:     cmd.StartSrc,
		StartArg:     cmd.StartArg,
		ScanBeginSrc: cmd.ScanBeginSrc,
		ScanBeginArg: cmd.ScanBeginArg,
		ConvertSrc:   cmd.ConvertSrc,
		ConvertArg:   cmd.ConvertArg,
		ScanEndSrc:   cmd.ScanEndSrc,
		ScanEndArg:   cmd.ScanEndArg,
		StopSrc:      cmd.StopSrc,
		StopArg:      cmd.StopArg,
		ChanlistLen:  uint32(len(cmd.ChanList)),
	}
	if len(cmd.ChanList) > 0 {
		kc.Chanlist = uintptr(unsafe.Pointer(&cmd.ChanList[0]))
	}
	return kc
}

func (cmd *Command) unmarshalCmd(kc *kernelCmd) {
	cmd.StartSrc = kc.StartSrc
	cmd.StartArg = kc.StartArg
	cmd.ScanBeginSrc = kc.ScanBeginSrc
	cmd.ScanBeginArg = kc.ScanBeginArg
	cmd.ConvertSrc = kc.ConvertSrc
	cmd.ConvertArg = kc.ConvertArg
	cmd.ScanEndSrc = kc.ScanEndSrc
	cmd.ScanEndArg = kc.ScanEndArg
	cmd.StopSrc = kc.StopSrc
	cmd.StopArg = kc.StopArg
}

func (dev *hardwareDevice) TestCommand(cmd *Command) (int, error) {
	kc := dev.marshalCmd(cmd)
	req := ioc(iocRead, 10, unsafe.Sizeof(kc))
	stage, err := dev.ioctlRet(req, unsafe.Pointer(&kc))
	if err != nil {
		return 0, fmt.Errorf("CMDTEST failed: %w", err)
	}
	// The kernel may have rewritten sources and arguments in place.
	cmd.unmarshalCmd(&kc)
	return stage, nil
}

func (dev *hardwareDevice) Execute(cmd *Command) error {
	kc := dev.marshalCmd(cmd)
	req := ioc(iocRead, 9, unsafe.Sizeof(kc))
	if err := dev.ioctl(req, unsafe.Pointer(&kc)); err != nil {
		return fmt.Errorf("CMD failed: %w", err)
	}
	return nil
}

func (dev *hardwareDevice) AvailableBytes(subdevice int) (int, error) {
	bi := bufInfo{Subdevice: uint32(subdevice)}
	req := ioc(iocWrite|iocRead, 14, unsafe.Sizeof(bi))
	if err := dev.ioctl(req, unsafe.Pointer(&bi)); err != nil {
		return 0, fmt.Errorf("BUFINFO failed: %w", err)
	}
	return int(bi.BufWriteCount - bi.BufReadCount), nil
}

func (dev *hardwareDevice) MarkRead(subdevice, n int) error {
	bi := bufInfo{Subdevice: uint32(subdevice), BytesRead: uint32(n)}
	req := ioc(iocWrite|iocRead, 14, unsafe.Sizeof(bi))
	if err := dev.ioctl(req, unsafe.Pointer(&bi)); err != nil {
		return fmt.Errorf("BUFINFO mark-read failed: %w", err)
	}
	return nil
}
