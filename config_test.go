package daq

import (
	"testing"

	"github.com/Enchufa2/daq-acquire/comedi"

	"github.com/stretchr/testify/assert"
)

func TestValidateCoercions(t *testing.T) {
	cfg := DefaultConfiguration()
	cfg.Integrate = 0
	cfg.StopCount = -5
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Integrate)
	assert.Equal(t, 0, cfg.StopCount)
}

func TestValidateRejections(t *testing.T) {
	bad := []func(*Configuration){
		func(c *Configuration) { c.Device = "" },
		func(c *Configuration) { c.Subdevice = -1 },
		func(c *Configuration) { c.Channels = nil },
		func(c *Configuration) { c.Channels = make([]int, MaxChannels+1) },
		func(c *Configuration) { c.Channels = []int{0, -2} },
		func(c *Configuration) { c.Frequency = 0 },
		func(c *Configuration) { c.Frequency = -100 },
	}
	for i, mutate := range bad {
		cfg := DefaultConfiguration()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), "case %d", i)
	}

	cfg := DefaultConfiguration()
	cfg.Channels = make([]int, MaxChannels)
	assert.NoError(t, cfg.Validate())
}

func TestChanListPreservesOrderAndDuplicates(t *testing.T) {
	cfg := DefaultConfiguration()
	cfg.Channels = []int{2, 0, 2}
	cfg.Range = 1
	cfg.ARef = comedi.ARefCommon

	list := cfg.ChanList()
	assert.Len(t, list, 3)
	for i, want := range []int{2, 0, 2} {
		assert.Equal(t, want, comedi.CRChannel(list[i]))
		assert.Equal(t, 1, comedi.CRRange(list[i]))
		assert.Equal(t, comedi.ARefCommon, comedi.CRARef(list[i]))
	}
}
