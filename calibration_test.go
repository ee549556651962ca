package daq

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Enchufa2/daq-acquire/comedi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolynomialApply(t *testing.T) {
	// 2 + 3(x-100) + 0.5(x-100)^2 at x=104: 2 + 12 + 8 = 22.
	p := Polynomial{Origin: 100, Coefficients: []float64{2, 3, 0.5}}
	assert.InDelta(t, 22.0, p.Apply(104), 1e-12)
	assert.InDelta(t, 2.0, p.Apply(100), 1e-12)

	empty := Polynomial{}
	assert.Equal(t, 0.0, empty.Apply(12345))
}

func TestIdentityConverter(t *testing.T) {
	conv := IdentityConverter()
	assert.Equal(t, 42.0, conv.Convert(0, 42))
	assert.Equal(t, 42.0, conv.Convert(3, 42))
}

func TestHardwareConverterLinear(t *testing.T) {
	dev := comedi.NewSimDevice(4096) // one range, -10..10 V over 16 bits
	cfg := DefaultConfiguration()
	cfg.Channels = []int{0, 0}

	conv, err := NewHardwareConverter(dev, &cfg)
	require.NoError(t, err)

	assert.InDelta(t, -10.0, conv.Convert(0, 0), 1e-9)
	assert.InDelta(t, 10.0, conv.Convert(0, 0xffff), 1e-9)
	assert.InDelta(t, 0.0, conv.Convert(1, 0x8000), 1e-3)
}

func TestHardwareConverterBadRange(t *testing.T) {
	dev := comedi.NewSimDevice(4096)
	cfg := DefaultConfiguration()
	cfg.Range = 7
	_, err := NewHardwareConverter(dev, &cfg)
	assert.Error(t, err)
}

const calibYAML = `board: sim
calibrations:
  - subdevice: 0
    channel: 0
    range: 0
    origin: 32768
    coefficients: [0.0, 0.000305175]
  - subdevice: 0
    channel: 2
    range: 0
    origin: 0
    coefficients: [-10.0, 0.000305180]
`

func writeCalibration(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestSoftwareConverter(t *testing.T) {
	path := writeCalibration(t, calibYAML)
	cfg := DefaultConfiguration()
	cfg.Channels = []int{2, 0}

	conv, err := NewSoftwareConverter(path, &cfg)
	require.NoError(t, err)

	// Position 0 is channel 2, position 1 is channel 0: per-position lookup,
	// not per-hardware-channel.
	assert.InDelta(t, -10.0, conv.Convert(0, 0), 1e-9)
	assert.InDelta(t, 0.0, conv.Convert(1, 32768), 1e-9)
	assert.True(t, math.Abs(conv.Convert(1, 32768+3277)-1.0) < 1e-2)
}

func TestSoftwareConverterMissingEntry(t *testing.T) {
	path := writeCalibration(t, calibYAML)
	cfg := DefaultConfiguration()
	cfg.Channels = []int{1} // no calibration on file for channel 1
	_, err := NewSoftwareConverter(path, &cfg)
	assert.ErrorContains(t, err, "no calibration")

	cfg.Channels = []int{0}
	cfg.Range = 5
	_, err = NewSoftwareConverter(path, &cfg)
	assert.ErrorContains(t, err, "no calibration")
}

func TestSoftwareConverterRejectsEmptyCoefficients(t *testing.T) {
	path := writeCalibration(t, `board: sim
calibrations:
  - subdevice: 0
    channel: 0
    range: 0
    origin: 0
    coefficients: []
`)
	cfg := DefaultConfiguration()
	_, err := NewSoftwareConverter(path, &cfg)
	assert.ErrorContains(t, err, "no coefficients")
}

func TestSoftwareConverterBadFile(t *testing.T) {
	cfg := DefaultConfiguration()
	_, err := NewSoftwareConverter(filepath.Join(t.TempDir(), "missing.yaml"), &cfg)
	assert.Error(t, err)

	path := writeCalibration(t, "board: [not, a, string")
	_, err = NewSoftwareConverter(path, &cfg)
	assert.Error(t, err)
}

func TestNewConverterPicksByFlags(t *testing.T) {
	dev := comedi.NewSimDevice(4096)
	cfg := DefaultConfiguration()

	conv, err := NewConverter(dev, &cfg, dev.Flags)
	require.NoError(t, err)
	assert.InDelta(t, -10.0, conv.Convert(0, 0), 1e-9)

	cfg.Calibration = writeCalibration(t, calibYAML)
	conv, err = NewConverter(dev, &cfg, dev.Flags|comedi.SDFSoftCalibrated)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, conv.Convert(0, 32768), 1e-9)

	// Soft-calibrated with no usable file is fatal, not a silent fallback.
	cfg.Calibration = filepath.Join(t.TempDir(), "nope.yaml")
	_, err = NewConverter(dev, &cfg, dev.Flags|comedi.SDFSoftCalibrated)
	assert.Error(t, err)
}

func TestDefaultCalibrationPath(t *testing.T) {
	dev := comedi.NewSimDevice(4096)
	path, err := DefaultCalibrationPath(dev)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/daq-acquire/calibrations/sim.yaml", path)
}
