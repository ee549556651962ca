package daq

import (
	"fmt"
	"time"

	"github.com/Enchufa2/daq-acquire/comedi"

	"github.com/davecgh/go-spew/spew"
	"github.com/oklog/ulid/v2"
)

// idleBackoff is how long the loop sleeps when a poll finds no new data.
// Long enough not to starve the system, short enough that the buffer cannot
// fill between polls at any rate the negotiation would grant.
const idleBackoff = 10 * time.Millisecond

// Acquisition owns one run: it negotiates the hardware command, drains the
// ring buffer, aggregates samples into rows, and feeds them to its sink. It
// is single-threaded by design; the DMA engine is the only other writer in
// the picture, and the produced/consumed invariant is the guard against it.
type Acquisition struct {
	dev   comedi.Device
	cfg   Configuration
	conv  Converter
	sink  RowSink
	runID string

	command *NegotiatedCommand
	reader  *RingReader
}

// NewRunID returns a lexically sortable unique id for one acquisition run.
func NewRunID() string { return ulid.Make().String() }

// NewAcquisition validates the configuration and assembles a run. The
// converter and sink are collaborators the caller supplies; the core never
// constructs them itself. An empty runID gets a fresh one.
func NewAcquisition(dev comedi.Device, cfg Configuration, conv Converter, sink RowSink, runID string) (*Acquisition, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if runID == "" {
		runID = NewRunID()
	}
	return &Acquisition{
		dev:   dev,
		cfg:   cfg,
		conv:  conv,
		sink:  sink,
		runID: runID,
	}, nil
}

// RunID identifies this acquisition in logs and published metadata.
func (acq *Acquisition) RunID() string { return acq.runID }

// Command returns the negotiated command, once Run has negotiated it.
func (acq *Acquisition) Command() *NegotiatedCommand { return acq.command }

// Run negotiates, arms, and drains until the stop condition or a fatal
// error. Every error it returns means the run is over: configuration
// rejections and calibration problems surface before the first sample, and
// device failures or an overrun terminate the loop rather than let it emit
// corrupted data.
func (acq *Acquisition) Run() error {
	flags, err := acq.dev.SubdeviceFlags(acq.cfg.Subdevice)
	if err != nil {
		return fmt.Errorf("querying subdevice flags: %w", err)
	}

	reader, err := NewRingReader(acq.dev, acq.cfg.Subdevice, flags)
	if err != nil {
		return err
	}
	acq.reader = reader

	command, err := Negotiate(acq.dev, &acq.cfg)
	if err != nil {
		return err
	}
	acq.command = command
	if acq.cfg.Verbose {
		ProblemLogger.Printf("run %s: negotiated scan period %d ns", acq.runID, command.PeriodNS)
		ProblemLogger.Print(spew.Sdump(command.Cmd))
	}

	agg := NewAggregator(acq.conv, len(acq.cfg.Channels), acq.cfg.Integrate, command.PeriodNS)

	// The timestamp base is captured exactly once, at arm time.
	base := time.Now()
	if err := acq.sink.Start(base); err != nil {
		return fmt.Errorf("starting sink: %w", err)
	}
	if err := acq.dev.Execute(&command.Cmd); err != nil {
		return fmt.Errorf("arming command: %w", err)
	}

	for {
		n, err := reader.Poll()
		if err != nil {
			return err
		}
		if acq.cfg.Verbose {
			ProblemLogger.Printf("produced = %d, consumed = %d", reader.Produced(), reader.Consumed())
		}
		if n == 0 {
			if acq.cfg.StopCount > 0 && agg.Scans() >= acq.cfg.StopCount {
				return nil
			}
			time.Sleep(idleBackoff)
			continue
		}

		var sinkErr error
		decoded := reader.Decode(n, func(raw uint32) {
			if sinkErr != nil {
				return
			}
			if row, ok := agg.Feed(raw); ok {
				sinkErr = acq.sink.Emit(row)
			}
		})
		if sinkErr != nil {
			return sinkErr
		}
		if err := reader.Acknowledge(decoded); err != nil {
			return err
		}
	}
}
