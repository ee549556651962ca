package daq

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Enchufa2/daq-acquire/comedi"

	"gopkg.in/yaml.v3"
)

// Polynomial converts a raw sample code into physical units. It is evaluated
// about an expansion origin, matching how calibration tables are stored.
type Polynomial struct {
	Origin       float64   `yaml:"origin"`
	Coefficients []float64 `yaml:"coefficients"`
}

// Apply evaluates the polynomial at the given raw code.
func (p Polynomial) Apply(raw uint32) float64 {
	x := float64(raw) - p.Origin
	var sum, xn float64
	xn = 1
	for _, c := range p.Coefficients {
		sum += c * xn
		xn *= x
	}
	return sum
}

// Converter turns the raw sample at one channel position of a scan into a
// physical value. Positions index the configured channel list, not hardware
// channel numbers, so a duplicated channel gets a converter per appearance.
type Converter interface {
	Convert(position int, raw uint32) float64
}

type polynomialConverter struct {
	polys []Polynomial
}

func (pc *polynomialConverter) Convert(position int, raw uint32) float64 {
	return pc.polys[position].Apply(raw)
}

// identityConverter passes raw codes through unscaled.
type identityConverter struct{}

func (identityConverter) Convert(position int, raw uint32) float64 { return float64(raw) }

// IdentityConverter returns a Converter that reports raw codes unchanged.
func IdentityConverter() Converter { return identityConverter{} }

// NewHardwareConverter derives per-channel linear converters from the facts a
// hardware-calibrated board reports about itself: each channel's range span
// divided across its raw code span.
func NewHardwareConverter(dev comedi.Device, cfg *Configuration) (Converter, error) {
	polys := make([]Polynomial, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		maxdata, err := dev.MaxData(cfg.Subdevice, ch)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}
		if maxdata == 0 {
			return nil, fmt.Errorf("channel %d reports maxdata 0", ch)
		}
		rng, err := dev.RangeInfo(cfg.Subdevice, ch, cfg.Range)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}
		polys[i] = Polynomial{
			Origin:       0,
			Coefficients: []float64{rng.Min, (rng.Max - rng.Min) / float64(maxdata)},
		}
	}
	return &polynomialConverter{polys: polys}, nil
}

// calibrationEntry is one record of a software calibration file.
type calibrationEntry struct {
	Subdevice  int        `yaml:"subdevice"`
	Channel    int        `yaml:"channel"`
	Range      int        `yaml:"range"`
	Polynomial Polynomial `yaml:",inline"`
}

type calibrationFile struct {
	Board        string             `yaml:"board"`
	Calibrations []calibrationEntry `yaml:"calibrations"`
}

// DefaultCalibrationPath is where the calibration utility leaves files for
// software-calibrated boards, keyed by board name.
func DefaultCalibrationPath(dev comedi.Device) (string, error) {
	board, err := dev.BoardName()
	if err != nil {
		return "", err
	}
	return filepath.Join("/var/lib/daq-acquire/calibrations", board+".yaml"), nil
}

// NewSoftwareConverter parses a calibration file and picks the polynomial for
// every configured channel position. A missing entry is an error: there is no
// uncalibrated fallback.
func NewSoftwareConverter(path string, cfg *Configuration) (Converter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calibration file: %w", err)
	}
	var file calibrationFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing calibration file %s: %w", path, err)
	}

	polys := make([]Polynomial, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		found := false
		for _, entry := range file.Calibrations {
			if entry.Subdevice == cfg.Subdevice && entry.Channel == ch && entry.Range == cfg.Range {
				if len(entry.Polynomial.Coefficients) == 0 {
					return nil, fmt.Errorf("calibration for subdevice %d channel %d range %d has no coefficients",
						cfg.Subdevice, ch, cfg.Range)
				}
				polys[i] = entry.Polynomial
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no calibration for subdevice %d channel %d range %d in %s",
				cfg.Subdevice, ch, cfg.Range, path)
		}
	}
	return &polynomialConverter{polys: polys}, nil
}

// NewConverter picks the calibration source the subdevice flags call for:
// software-calibrated boards read a calibration file, everything else derives
// converters from the hardware itself. Fatal at startup on any failure.
func NewConverter(dev comedi.Device, cfg *Configuration, flags uint32) (Converter, error) {
	if flags&comedi.SDFSoftCalibrated != 0 {
		path := cfg.Calibration
		if path == "" {
			var err error
			if path, err = DefaultCalibrationPath(dev); err != nil {
				return nil, fmt.Errorf("locating calibration file: %w", err)
			}
		}
		conv, err := NewSoftwareConverter(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("software calibration: %w", err)
		}
		return conv, nil
	}
	conv, err := NewHardwareConverter(dev, cfg)
	if err != nil {
		return nil, fmt.Errorf("hardware calibration: %w", err)
	}
	return conv, nil
}
