package daq

import (
	"errors"
	"fmt"
	"math"

	"github.com/Enchufa2/daq-acquire/comedi"

	"golang.org/x/sys/unix"
)

// CommandState tracks a hardware command through its negotiation.
type CommandState int

// Names for the possible values of CommandState
const (
	CommandDraft  CommandState = iota // built from the Configuration, untested
	CommandTested                     // survived one validation round
	CommandArmed                      // accepted unmodified; safe to execute
	CommandRejected
)

func (s CommandState) String() string {
	switch s {
	case CommandDraft:
		return "Draft"
	case CommandTested:
		return "Tested"
	case CommandArmed:
		return "Armed"
	case CommandRejected:
		return "Rejected"
	}
	return fmt.Sprintf("CommandState(%d)", int(s))
}

// NegotiatedCommand is a hardware command that reached the Armed state plus
// the facts negotiation established about it.
type NegotiatedCommand struct {
	Cmd      comedi.Command
	State    CommandState
	PeriodNS uint32 // granted scan period; may differ from the requested one
}

// draftCommand builds the untested command a Configuration asks for: periodic
// scans over the packed channel list, stopping after StopCount scans or never.
func draftCommand(cfg *Configuration) comedi.Command {
	cmd := comedi.Command{
		Subdevice:    uint32(cfg.Subdevice),
		StartSrc:     comedi.TrigNow,
		StartArg:     0,
		ScanBeginSrc: comedi.TrigTimer,
		ScanBeginArg: uint32(math.Round(1e9 / cfg.Frequency)),
		ConvertSrc:   comedi.TrigTimer,
		ConvertArg:   0,
		ScanEndSrc:   comedi.TrigCount,
		ScanEndArg:   uint32(len(cfg.Channels)),
		ChanList:     cfg.ChanList(),
	}
	if cfg.StopCount > 0 {
		cmd.StopSrc = comedi.TrigCount
		cmd.StopArg = uint32(cfg.StopCount)
	} else {
		cmd.StopSrc = comedi.TrigNone
		cmd.StopArg = 0
	}
	return cmd
}

// Negotiate submits a draft command for validation at most twice. The device
// is allowed to AND invalid trigger sources down to a valid subset and to
// snap numeric arguments to the nearest value it supports, so a first-round
// adjustment is routine. A command still being adjusted on the second round
// means the requested channel/range/frequency combination is
// something this hardware cannot do, and the command must not be armed.
func Negotiate(dev comedi.Device, cfg *Configuration) (*NegotiatedCommand, error) {
	nc := &NegotiatedCommand{Cmd: draftCommand(cfg), State: CommandDraft}

	stage, err := dev.TestCommand(&nc.Cmd)
	if err != nil {
		nc.State = CommandRejected
		if errors.Is(err, unix.EIO) {
			return nc, fmt.Errorf("subdevice %d does not support streaming commands: %w", cfg.Subdevice, err)
		}
		return nc, fmt.Errorf("command test failed: %w", err)
	}
	nc.State = CommandTested
	if stage != 0 && cfg.Verbose {
		ProblemLogger.Printf("command adjusted at stage %d on first test", stage)
	}

	stage, err = dev.TestCommand(&nc.Cmd)
	if err != nil {
		nc.State = CommandRejected
		return nc, fmt.Errorf("command test failed: %w", err)
	}
	if stage != 0 {
		nc.State = CommandRejected
		return nc, fmt.Errorf("command still adjusted (stage %d) after two tests: unsupported channel/range/frequency combination", stage)
	}

	nc.State = CommandArmed
	nc.PeriodNS = nc.Cmd.ScanBeginArg
	if nc.PeriodNS == 0 {
		nc.State = CommandRejected
		return nc, fmt.Errorf("device granted a zero scan period")
	}
	return nc, nil
}
